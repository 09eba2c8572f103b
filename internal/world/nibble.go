package world

// nibbleArray хранит 4096 значений по 4 бита (свет)
type nibbleArray [SectionVolume / 2]byte

func (n *nibbleArray) get(i int) int {
	b := n[i>>1]
	if i&1 == 0 {
		return int(b & 0x0F)
	}
	return int(b >> 4)
}

func (n *nibbleArray) set(i, v int) {
	j := i >> 1
	if i&1 == 0 {
		n[j] = n[j]&0xF0 | byte(v&0x0F)
	} else {
		n[j] = n[j]&0x0F | byte(v&0x0F)<<4
	}
}

func (n *nibbleArray) fill(v int) {
	b := byte(v&0x0F) | byte(v&0x0F)<<4
	for i := range n {
		n[i] = b
	}
}
