package world

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/voxel-world/internal/vec"
)

// ChunkHeaderVersion - версия формата заголовка чанка
const ChunkHeaderVersion = 1

// ChunkHeader - сохраняемые метаданные чанка (без данных секций)
type ChunkHeader struct {
	Version      int                `json:"version"`
	X            int                `json:"x"`
	Z            int                `json:"z"`
	Sections     uint16             `json:"sections"` // битовая маска присутствующих секций
	Populated    bool               `json:"populated"`
	TileEntities []TileEntityRecord `json:"tile_entities,omitempty"`
	SavedAt      time.Time          `json:"saved_at"`
}

// TileEntityRecord - тайл-сущность вместе с позицией
type TileEntityRecord struct {
	X    int        `json:"x"`
	Y    int        `json:"y"`
	Z    int        `json:"z"`
	Data TileEntity `json:"data"`
}

// ChunkSnapshot - согласованный снимок чанка для записи в хранилище
type ChunkSnapshot struct {
	Header   ChunkHeader
	Sections map[int][]byte // индекс секции -> Section.MarshalBinary
}

// Has сообщает, присутствует ли секция idx в снимке
func (h ChunkHeader) Has(idx int) bool {
	return h.Sections&(1<<uint(idx)) != 0
}

// Snapshot снимает копию чанка под блокировкой чтения
func (c *Chunk) Snapshot() (ChunkSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return ChunkSnapshot{}, ErrNotLoaded
	}

	snap := ChunkSnapshot{
		Header: ChunkHeader{
			Version:   ChunkHeaderVersion,
			X:         c.pos.X,
			Z:         c.pos.Z,
			Populated: c.populated.Load(),
			SavedAt:   time.Now().UTC(),
		},
		Sections: make(map[int][]byte),
	}
	for idx, s := range c.sections {
		if s == nil {
			continue
		}
		data, err := s.MarshalBinary()
		if err != nil {
			return ChunkSnapshot{}, fmt.Errorf("кодирование секции %d чанка %s: %w", idx, c.pos, err)
		}
		snap.Header.Sections |= 1 << uint(idx)
		snap.Sections[idx] = data
	}
	for pos, t := range c.tiles {
		snap.Header.TileEntities = append(snap.Header.TileEntities, TileEntityRecord{
			X: pos.X, Y: pos.Y, Z: pos.Z, Data: t.clone(),
		})
	}
	return snap, nil
}

// RestoreChunk собирает загруженный чанк из снимка. Вызывающий владеет ссылкой.
func (w *World) RestoreChunk(snap ChunkSnapshot) (*Chunk, error) {
	h := snap.Header
	if h.Version != ChunkHeaderVersion {
		return nil, fmt.Errorf("%w: неизвестная версия заголовка чанка %d", ErrInvalidArgument, h.Version)
	}

	c := newChunk(w, h.X, h.Z)
	for idx := 0; idx < ChunkSections; idx++ {
		if !h.Has(idx) {
			continue
		}
		data, ok := snap.Sections[idx]
		if !ok {
			_, _ = c.Release()
			return nil, fmt.Errorf("%w: нет данных секции %d чанка (%d, %d)", ErrInvalidArgument, idx, h.X, h.Z)
		}
		s, err := c.restoreSection(idx, data)
		if err != nil {
			_, _ = c.Release()
			return nil, err
		}
		c.sections[idx] = s
	}
	for _, t := range h.TileEntities {
		c.tiles[vec.Vec3{X: t.X, Y: t.Y, Z: t.Z}] = t.Data
	}
	c.loaded = true
	c.exists.Store(true)
	c.populated.Store(h.Populated)
	return c, nil
}

// RestoreSection декодирует секцию, принадлежащую c. Секция не прикрепляется
// к чанку; вызывающий владеет ссылкой, которая удерживает и c.
func (c *Chunk) RestoreSection(y int, data []byte) (*Section, error) {
	s, err := c.restoreSection(y, data)
	if err != nil {
		return nil, err
	}
	if err := c.ref.retain(); err != nil {
		s.drop()
		return nil, err
	}
	return s, nil
}

func (c *Chunk) restoreSection(y int, data []byte) (*Section, error) {
	if y < 0 || y >= ChunkSections {
		return nil, fmt.Errorf("%w: индекс секции %d", ErrInvalidArgument, y)
	}
	s, err := c.world.opts.SectionFactory(c, y)
	if err != nil {
		return nil, err
	}
	if err := s.UnmarshalBinary(data); err != nil {
		s.drop()
		return nil, fmt.Errorf("декодирование секции %d чанка %s: %w", y, c.pos, err)
	}
	return s, nil
}

// ChunkKey возвращает ключ чанка в хранилище и в сообщениях инвалидации
func ChunkKey(x, z int) string {
	return fmt.Sprintf("chunk:%d:%d", x, z)
}

// SectionKey возвращает ключ секции в хранилище
func SectionKey(x, y, z int) string {
	return fmt.Sprintf("section:%d:%d:%d", x, y, z)
}

// ParseChunkKey разбирает ключ вида "chunk:x:z"
func ParseChunkKey(key string) (vec.Vec2, error) {
	parts, err := parseKey(key, "chunk", 2)
	if err != nil {
		return vec.Vec2{}, err
	}
	return vec.Vec2{X: parts[0], Z: parts[1]}, nil
}

// ParseSectionKey разбирает ключ вида "section:x:y:z"
func ParseSectionKey(key string) (vec.Vec3, error) {
	parts, err := parseKey(key, "section", 3)
	if err != nil {
		return vec.Vec3{}, err
	}
	return vec.Vec3{X: parts[0], Y: parts[1], Z: parts[2]}, nil
}

func parseKey(key, prefix string, n int) ([]int, error) {
	fields := strings.Split(key, ":")
	if len(fields) != n+1 || fields[0] != prefix {
		return nil, fmt.Errorf("%w: ключ %q", ErrInvalidArgument, key)
	}
	out := make([]int, n)
	for i, f := range fields[1:] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: ключ %q: %v", ErrInvalidArgument, key, err)
		}
		out[i] = v
	}
	return out, nil
}
