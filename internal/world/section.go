package world

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Section - куб 16x16x16 блоков, лист пространственной иерархии.
// Секция принадлежит ровно одному чанку; флаг изменений и сохранение
// делегируются чанку.
//
// Первая ссылка секции принадлежит чанку-владельцу. Каждая ссылка,
// полученная через Retain, дополнительно удерживает чанк, поэтому
// удержанная секция не переживает свой чанк.
type Section struct {
	blockAccessor

	chunk    atomic.Pointer[Chunk]
	y        int
	registry *block.Registry
	layers   int
	sky      bool

	mu         sync.RWMutex
	states     []*[SectionVolume]uint16 // [0] всегда выделен, остальные лениво
	blockLight *nibbleArray
	skyLight   *nibbleArray // nil, если у мира нет неба
	disposed   bool
	orphaned   atomic.Bool // выброшена выгруженным чанком

	ref        refCounter
	lastAccess atomic.Int64
}

// NewSection создаёт пустую секцию с параметрами мира владельца
func NewSection(owner *Chunk, y int) *Section {
	w := owner.world
	return newSection(owner, y, w.opts.Layers, w.opts.SkyLight, w.registry)
}

func newSection(owner *Chunk, y, layers int, sky bool, reg *block.Registry) *Section {
	s := &Section{
		y:          y,
		registry:   reg,
		layers:     layers,
		sky:        sky,
		states:     make([]*[SectionVolume]uint16, layers),
		blockLight: getLightArray(0),
	}
	s.states[0] = getStateArray()
	if sky {
		s.skyLight = getLightArray(MaxLightLevel)
	}
	s.chunk.Store(owner)
	s.blockAccessor = blockAccessor{s: s}
	s.ref.init(s.dispose)
	s.touch()
	return s
}

func (s *Section) dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, arr := range s.states {
		putStateArray(arr)
		s.states[i] = nil
	}
	putLightArray(s.blockLight)
	putLightArray(s.skyLight)
	s.blockLight, s.skyLight = nil, nil
	s.disposed = true
}

// Chunk возвращает чанк-владелец
func (s *Section) Chunk() *Chunk { return s.chunk.Load() }

// X возвращает координату X чанка-владельца
func (s *Section) X() int { return s.Chunk().pos.X }

// Y возвращает вертикальный индекс секции внутри чанка (0..15)
func (s *Section) Y() int { return s.y }

// Z возвращает координату Z чанка-владельца
func (s *Section) Z() int { return s.Chunk().pos.Z }

// Pos возвращает координаты секции (X, Z чанка и индекс Y)
func (s *Section) Pos() vec.Vec3 {
	c := s.Chunk()
	return vec.Vec3{X: c.pos.X, Y: s.y, Z: c.pos.Z}
}

func (s *Section) Layers() int               { return s.layers }
func (s *Section) HasSkyLight() bool         { return s.sky }
func (s *Section) Registry() *block.Registry { return s.registry }

// Dirty совпадает с флагом изменений чанка-владельца
func (s *Section) Dirty() bool { return s.Chunk().Dirty() }

// MarkDirty помечает изменённым чанк-владелец
func (s *Section) MarkDirty() { s.Chunk().MarkDirty() }

// Save сохраняет чанк-владелец целиком
func (s *Section) Save(ctx context.Context) error {
	if s.orphaned.Load() {
		return ErrNotLoaded
	}
	return s.Chunk().Save(ctx)
}

// Orphaned сообщает, что чанк-владелец был выгружен и секция больше
// не входит в его данные
func (s *Section) Orphaned() bool { return s.orphaned.Load() }

// Retain увеличивает счётчик ссылок секции и чанка-владельца
func (s *Section) Retain() (*Section, error) {
	if err := s.ref.retain(); err != nil {
		return nil, err
	}
	if c := s.Chunk(); c != nil {
		if err := c.ref.retain(); err != nil {
			_, _ = s.ref.release()
			return nil, err
		}
	}
	return s, nil
}

// Release отпускает ссылку, полученную через Retain (или от менеджера),
// вместе с удержанием чанка. При нуле массивы возвращаются в пул.
func (s *Section) Release() (bool, error) {
	c := s.Chunk()
	freed, err := s.ref.release()
	if err != nil {
		return false, err
	}
	if c != nil {
		_, _ = c.ref.release()
	}
	return freed, nil
}

// drop отпускает ссылку чанка-владельца (или кэша), не трогая счётчик чанка
func (s *Section) drop() { _, _ = s.ref.release() }

// RefCnt возвращает текущее число ссылок
func (s *Section) RefCnt() int32 { return s.ref.refCnt() }

func (s *Section) touch() { s.lastAccess.Store(time.Now().UnixNano()) }

func (s *Section) idleSince() time.Time { return time.Unix(0, s.lastAccess.Load()) }

func (s *Section) getRaw(p plane, layer, x, y, z int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return 0, ErrAlreadyReleased
	}
	if s.orphaned.Load() {
		return 0, ErrNotLoaded
	}

	i := index(x, y, z)
	switch p {
	case planeState:
		arr := s.states[layer]
		if arr == nil {
			return 0, nil
		}
		return int(arr[i]), nil
	case planeBlockLight:
		return s.blockLight.get(i), nil
	case planeSkyLight:
		if s.skyLight == nil {
			return 0, nil
		}
		return s.skyLight.get(i), nil
	}
	return 0, fmt.Errorf("%w: плоскость %d", ErrInvalidArgument, p)
}

func (s *Section) setRaw(p plane, layer, x, y, z, v int) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrAlreadyReleased
	}
	if s.orphaned.Load() {
		s.mu.Unlock()
		return ErrNotLoaded
	}

	i := index(x, y, z)
	switch p {
	case planeState:
		arr := s.states[layer]
		if arr == nil {
			if v == 0 {
				s.mu.Unlock()
				return nil
			}
			arr = getStateArray()
			s.states[layer] = arr
		}
		arr[i] = uint16(v)
	case planeBlockLight:
		s.blockLight.set(i, v)
	case planeSkyLight:
		if s.skyLight == nil {
			s.mu.Unlock()
			return ErrUnsupported
		}
		s.skyLight.set(i, v)
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: плоскость %d", ErrInvalidArgument, p)
	}
	s.mu.Unlock()

	s.touch()
	if c := s.Chunk(); c != nil {
		c.MarkDirty()
	}
	return nil
}

// GetHighestBlock возвращает наибольший y (0..15) с ненулевым блоком в столбце x,z
// или 0, если столбец пуст
func (s *Section) GetHighestBlock(x, z int) int {
	y, _ := s.highestBlock(x, z)
	return y
}

func (s *Section) highestBlock(x, z int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return 0, false
	}
	arr := s.states[DefaultLayer]
	for y := SectionSize - 1; y >= 0; y-- {
		if legacyID, _ := block.SplitRuntimeID(int(arr[index(x, y, z)])); legacyID != 0 {
			return y, true
		}
	}
	return 0, false
}

// IsEmpty сообщает, что секция содержит только данные по умолчанию
func (s *Section) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return true
	}
	for _, arr := range s.states {
		if arr == nil {
			continue
		}
		for _, v := range arr {
			if v != 0 {
				return false
			}
		}
	}
	for _, b := range s.blockLight {
		if b != 0 {
			return false
		}
	}
	if s.skyLight != nil {
		for _, b := range s.skyLight {
			if b != 0xFF {
				return false
			}
		}
	}
	return true
}

const (
	sectionMagic0     = 'V'
	sectionMagic1     = 'S'
	sectionVersion    = 1
	sectionHeaderSize = 6
	sectionFlagSky    = 1 << 0
	stateArrayBytes   = SectionVolume * 2
	lightArrayBytes   = SectionVolume / 2
)

// MarshalBinary кодирует секцию: заголовок, маска слоёв, массивы состояний
// (little-endian uint16) и массивы света
func (s *Section) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed {
		return nil, ErrAlreadyReleased
	}

	var mask uint16
	size := sectionHeaderSize + lightArrayBytes
	for i, arr := range s.states {
		if arr != nil {
			mask |= 1 << uint(i)
			size += stateArrayBytes
		}
	}
	var flags byte
	if s.skyLight != nil {
		flags |= sectionFlagSky
		size += lightArrayBytes
	}

	buf := make([]byte, sectionHeaderSize, size)
	buf[0], buf[1], buf[2], buf[3] = sectionMagic0, sectionMagic1, sectionVersion, flags
	binary.LittleEndian.PutUint16(buf[4:], mask)
	for _, arr := range s.states {
		if arr == nil {
			continue
		}
		for _, v := range arr {
			buf = binary.LittleEndian.AppendUint16(buf, v)
		}
	}
	buf = append(buf, s.blockLight[:]...)
	if s.skyLight != nil {
		buf = append(buf, s.skyLight[:]...)
	}
	return buf, nil
}

// UnmarshalBinary заменяет содержимое секции закодированными данными
func (s *Section) UnmarshalBinary(data []byte) error {
	if len(data) < sectionHeaderSize || data[0] != sectionMagic0 || data[1] != sectionMagic1 {
		return fmt.Errorf("%w: некорректный заголовок секции", ErrInvalidArgument)
	}
	if data[2] != sectionVersion {
		return fmt.Errorf("%w: неизвестная версия секции %d", ErrInvalidArgument, data[2])
	}
	flags := data[3]
	mask := binary.LittleEndian.Uint16(data[4:])

	want := sectionHeaderSize + lightArrayBytes
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if i >= s.layers {
			return fmt.Errorf("%w: слой %d в данных, а в мире %d слоёв", ErrInvalidArgument, i, s.layers)
		}
		want += stateArrayBytes
	}
	if flags&sectionFlagSky != 0 {
		want += lightArrayBytes
	}
	if len(data) != want {
		return fmt.Errorf("%w: длина секции %d, ожидалось %d", ErrInvalidArgument, len(data), want)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrAlreadyReleased
	}

	off := sectionHeaderSize
	for i := range s.states {
		if mask&(1<<uint(i)) == 0 {
			if i != DefaultLayer {
				putStateArray(s.states[i])
				s.states[i] = nil
			} else {
				*s.states[i] = [SectionVolume]uint16{}
			}
			continue
		}
		arr := s.states[i]
		if arr == nil {
			arr = getStateArray()
			s.states[i] = arr
		}
		for j := range arr {
			arr[j] = binary.LittleEndian.Uint16(data[off:])
			off += 2
		}
	}
	copy(s.blockLight[:], data[off:off+lightArrayBytes])
	off += lightArrayBytes
	if s.skyLight != nil {
		if flags&sectionFlagSky != 0 {
			copy(s.skyLight[:], data[off:off+lightArrayBytes])
		} else {
			s.skyLight.fill(MaxLightLevel)
		}
	}
	return nil
}
