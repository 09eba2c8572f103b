package world

import (
	"maps"

	"github.com/annel0/voxel-world/internal/vec"
)

// TileEntity - произвольные данные, привязанные к позиции блока в чанке
// (содержимое сундука, текст таблички и т.п.)
type TileEntity map[string]any

func (t TileEntity) clone() TileEntity {
	return maps.Clone(t)
}

// TileEntity возвращает копию тайл-сущности по локальной позиции
func (c *Chunk) TileEntity(pos vec.Vec3) (TileEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiles[localTilePos(pos)]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// SetTileEntity сохраняет тайл-сущность и помечает чанк изменённым
func (c *Chunk) SetTileEntity(pos vec.Vec3, data TileEntity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	c.tiles[localTilePos(pos)] = data.clone()
	c.dirty.Store(true)
	return nil
}

// RemoveTileEntity удаляет тайл-сущность
func (c *Chunk) RemoveTileEntity(pos vec.Vec3) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := localTilePos(pos)
	if _, ok := c.tiles[key]; !ok {
		return false
	}
	delete(c.tiles, key)
	c.dirty.Store(true)
	return true
}

// TileEntities возвращает копию всех тайл-сущностей чанка
func (c *Chunk) TileEntities() map[vec.Vec3]TileEntity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[vec.Vec3]TileEntity, len(c.tiles))
	for pos, t := range c.tiles {
		out[pos] = t.clone()
	}
	return out
}

func localTilePos(pos vec.Vec3) vec.Vec3 {
	return vec.Vec3{X: pos.X & 0xF, Y: pos.Y, Z: pos.Z & 0xF}
}
