package world

// childRef - дочерний контейнер и координаты внутри него
type childRef struct {
	store   voxelStore
	x, y, z int
	release func()
}

func (c childRef) done() {
	if c.release != nil {
		c.release()
	}
}

// childResolver находит дочерний контейнер для координат.
// При create=false отсутствующий ребёнок не создаётся (found=false).
type childResolver interface {
	child(x, y, z int, create bool) (ref childRef, found bool, err error)
}

// delegateGet читает значение через дочерний контейнер.
// Если ребёнка нет, возвращается значение по умолчанию без аллокаций.
func delegateGet(r childResolver, p plane, def, layer, x, y, z int) (int, error) {
	ref, found, err := r.child(x, y, z, false)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	defer ref.done()
	return ref.store.getRaw(p, layer, ref.x, ref.y, ref.z)
}

// delegateSet записывает значение через дочерний контейнер.
// Запись значения по умолчанию в отсутствующего ребёнка ничего не делает,
// иначе ребёнок создаётся и запись передаётся ему.
func delegateSet(r childResolver, p plane, def, layer, x, y, z, v int) error {
	ref, found, err := r.child(x, y, z, false)
	if err != nil {
		return err
	}
	if !found {
		if v == def {
			return nil
		}
		if ref, found, err = r.child(x, y, z, true); err != nil {
			return err
		}
		if !found {
			return ErrNotLoaded
		}
	}
	defer ref.done()
	return ref.store.setRaw(p, layer, ref.x, ref.y, ref.z, v)
}
