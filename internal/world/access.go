package world

import (
	"fmt"

	"github.com/annel0/voxel-world/internal/world/block"
)

// BlockAccess - доступ к блокам и освещению по координатам.
// Реализуется секцией (локальные координаты 0..15), чанком и столбцом
// (x,z локальные, y 0..255) и миром (глобальные координаты).
//
// Каждая операция над блоками имеет вариант без слоя (DefaultLayer)
// и вариант ...Layer с явным слоем 0 <= layer < Layers().
type BlockAccess interface {
	Layers() int
	HasSkyLight() bool
	Registry() *block.Registry

	GetBlockState(x, y, z int) (block.State, error)
	GetBlockStateLayer(x, y, z, layer int) (block.State, error)
	GetBlockID(x, y, z int) (block.Identifier, error)
	GetBlockIDLayer(x, y, z, layer int) (block.Identifier, error)
	GetBlockLegacyID(x, y, z int) (int, error)
	GetBlockLegacyIDLayer(x, y, z, layer int) (int, error)
	GetBlockMeta(x, y, z int) (int, error)
	GetBlockMetaLayer(x, y, z, layer int) (int, error)
	GetBlockRuntimeID(x, y, z int) (int, error)
	GetBlockRuntimeIDLayer(x, y, z, layer int) (int, error)

	SetBlockState(x, y, z int, state block.State) error
	SetBlockStateLayer(x, y, z, layer int, state block.State) error
	SetBlockStateID(x, y, z int, id block.Identifier, meta int) error
	SetBlockStateIDLayer(x, y, z, layer int, id block.Identifier, meta int) error
	SetBlockStateLegacy(x, y, z, legacyID, meta int) error
	SetBlockStateLegacyLayer(x, y, z, layer, legacyID, meta int) error
	SetBlockID(x, y, z int, id block.Identifier) error
	SetBlockIDLayer(x, y, z, layer int, id block.Identifier) error
	SetBlockLegacyID(x, y, z, legacyID int) error
	SetBlockLegacyIDLayer(x, y, z, layer, legacyID int) error
	SetBlockMeta(x, y, z, meta int) error
	SetBlockMetaLayer(x, y, z, layer, meta int) error
	SetBlockRuntimeID(x, y, z, runtimeID int) error
	SetBlockRuntimeIDLayer(x, y, z, layer, runtimeID int) error

	GetBlockLight(x, y, z int) (int, error)
	SetBlockLight(x, y, z, level int) error
	GetSkyLight(x, y, z int) (int, error)
	SetSkyLight(x, y, z, level int) error
}

// voxelStore - примитивный уровень хранения, поверх которого blockAccessor
// реализует весь BlockAccess
type voxelStore interface {
	Layers() int
	HasSkyLight() bool
	Registry() *block.Registry

	getRaw(p plane, layer, x, y, z int) (int, error)
	setRaw(p plane, layer, x, y, z, v int) error
}

// blockAccessor встраивается в Section, Chunk и World
type blockAccessor struct {
	s voxelStore
}

func (a blockAccessor) checkLayer(layer int) error {
	if layer < 0 || layer >= a.s.Layers() {
		return fmt.Errorf("%w: слой %d вне диапазона 0..%d", ErrInvalidArgument, layer, a.s.Layers()-1)
	}
	return nil
}

func (a blockAccessor) runtimeID(x, y, z, layer int) (int, error) {
	if err := a.checkLayer(layer); err != nil {
		return 0, err
	}
	return a.s.getRaw(planeState, layer, x, y, z)
}

func (a blockAccessor) setRuntimeID(x, y, z, layer, runtimeID int) error {
	if err := a.checkLayer(layer); err != nil {
		return err
	}
	return a.s.setRaw(planeState, layer, x, y, z, runtimeID)
}

func (a blockAccessor) GetBlockState(x, y, z int) (block.State, error) {
	return a.GetBlockStateLayer(x, y, z, DefaultLayer)
}

func (a blockAccessor) GetBlockStateLayer(x, y, z, layer int) (block.State, error) {
	rid, err := a.runtimeID(x, y, z, layer)
	if err != nil {
		return block.State{}, err
	}
	return a.s.Registry().StateByRuntimeID(rid)
}

func (a blockAccessor) GetBlockID(x, y, z int) (block.Identifier, error) {
	return a.GetBlockIDLayer(x, y, z, DefaultLayer)
}

func (a blockAccessor) GetBlockIDLayer(x, y, z, layer int) (block.Identifier, error) {
	state, err := a.GetBlockStateLayer(x, y, z, layer)
	if err != nil {
		return "", err
	}
	return state.ID, nil
}

func (a blockAccessor) GetBlockLegacyID(x, y, z int) (int, error) {
	return a.GetBlockLegacyIDLayer(x, y, z, DefaultLayer)
}

func (a blockAccessor) GetBlockLegacyIDLayer(x, y, z, layer int) (int, error) {
	rid, err := a.runtimeID(x, y, z, layer)
	if err != nil {
		return 0, err
	}
	legacyID, _ := block.SplitRuntimeID(rid)
	return legacyID, nil
}

func (a blockAccessor) GetBlockMeta(x, y, z int) (int, error) {
	return a.GetBlockMetaLayer(x, y, z, DefaultLayer)
}

func (a blockAccessor) GetBlockMetaLayer(x, y, z, layer int) (int, error) {
	rid, err := a.runtimeID(x, y, z, layer)
	if err != nil {
		return 0, err
	}
	_, meta := block.SplitRuntimeID(rid)
	return meta, nil
}

func (a blockAccessor) GetBlockRuntimeID(x, y, z int) (int, error) {
	return a.runtimeID(x, y, z, DefaultLayer)
}

func (a blockAccessor) GetBlockRuntimeIDLayer(x, y, z, layer int) (int, error) {
	return a.runtimeID(x, y, z, layer)
}

func (a blockAccessor) SetBlockState(x, y, z int, state block.State) error {
	return a.SetBlockStateLayer(x, y, z, DefaultLayer, state)
}

func (a blockAccessor) SetBlockStateLayer(x, y, z, layer int, state block.State) error {
	reg := a.s.Registry()
	if !reg.ContainsState(state.LegacyID, state.Meta) {
		return fmt.Errorf("%w: состояние %s не зарегистрировано", ErrInvalidArgument, state)
	}
	if id, _ := reg.Identifier(state.LegacyID); state.ID != "" && id != state.ID {
		return fmt.Errorf("%w: legacy ID %d принадлежит %s, а не %s", ErrInvalidArgument, state.LegacyID, id, state.ID)
	}
	return a.setRuntimeID(x, y, z, layer, state.RuntimeID())
}

func (a blockAccessor) SetBlockStateID(x, y, z int, id block.Identifier, meta int) error {
	return a.SetBlockStateIDLayer(x, y, z, DefaultLayer, id, meta)
}

func (a blockAccessor) SetBlockStateIDLayer(x, y, z, layer int, id block.Identifier, meta int) error {
	state, ok := a.s.Registry().State(id, meta)
	if !ok {
		return fmt.Errorf("%w: метаданные %d не зарегистрированы для %s", ErrInvalidArgument, meta, id)
	}
	return a.setRuntimeID(x, y, z, layer, state.RuntimeID())
}

func (a blockAccessor) SetBlockStateLegacy(x, y, z, legacyID, meta int) error {
	return a.SetBlockStateLegacyLayer(x, y, z, DefaultLayer, legacyID, meta)
}

func (a blockAccessor) SetBlockStateLegacyLayer(x, y, z, layer, legacyID, meta int) error {
	if !a.s.Registry().ContainsState(legacyID, meta) {
		return fmt.Errorf("%w: метаданные %d не зарегистрированы для legacy ID %d", ErrInvalidArgument, meta, legacyID)
	}
	return a.setRuntimeID(x, y, z, layer, block.RuntimeID(legacyID, meta))
}

func (a blockAccessor) SetBlockID(x, y, z int, id block.Identifier) error {
	return a.SetBlockIDLayer(x, y, z, DefaultLayer, id)
}

func (a blockAccessor) SetBlockIDLayer(x, y, z, layer int, id block.Identifier) error {
	return a.SetBlockStateIDLayer(x, y, z, layer, id, 0)
}

func (a blockAccessor) SetBlockLegacyID(x, y, z, legacyID int) error {
	return a.SetBlockLegacyIDLayer(x, y, z, DefaultLayer, legacyID)
}

func (a blockAccessor) SetBlockLegacyIDLayer(x, y, z, layer, legacyID int) error {
	return a.SetBlockStateLegacyLayer(x, y, z, layer, legacyID, 0)
}

func (a blockAccessor) SetBlockMeta(x, y, z, meta int) error {
	return a.SetBlockMetaLayer(x, y, z, DefaultLayer, meta)
}

// SetBlockMetaLayer сохраняет текущий блок и меняет только метаданные
func (a blockAccessor) SetBlockMetaLayer(x, y, z, layer, meta int) error {
	rid, err := a.runtimeID(x, y, z, layer)
	if err != nil {
		return err
	}
	legacyID, _ := block.SplitRuntimeID(rid)
	if !a.s.Registry().ContainsState(legacyID, meta) {
		return fmt.Errorf("%w: метаданные %d не зарегистрированы для legacy ID %d", ErrInvalidArgument, meta, legacyID)
	}
	return a.setRuntimeID(x, y, z, layer, block.RuntimeID(legacyID, meta))
}

func (a blockAccessor) SetBlockRuntimeID(x, y, z, runtimeID int) error {
	return a.SetBlockRuntimeIDLayer(x, y, z, DefaultLayer, runtimeID)
}

func (a blockAccessor) SetBlockRuntimeIDLayer(x, y, z, layer, runtimeID int) error {
	if !a.s.Registry().ContainsRuntimeID(runtimeID) {
		return fmt.Errorf("%w: runtime ID %d не зарегистрирован", ErrInvalidArgument, runtimeID)
	}
	return a.setRuntimeID(x, y, z, layer, runtimeID)
}

func (a blockAccessor) GetBlockLight(x, y, z int) (int, error) {
	return a.s.getRaw(planeBlockLight, DefaultLayer, x, y, z)
}

func (a blockAccessor) SetBlockLight(x, y, z, level int) error {
	if level < 0 || level > MaxLightLevel {
		return fmt.Errorf("%w: уровень света %d", ErrInvalidArgument, level)
	}
	return a.s.setRaw(planeBlockLight, DefaultLayer, x, y, z, level)
}

// GetSkyLight возвращает 0 для мира без неба
func (a blockAccessor) GetSkyLight(x, y, z int) (int, error) {
	if !a.s.HasSkyLight() {
		return 0, nil
	}
	return a.s.getRaw(planeSkyLight, DefaultLayer, x, y, z)
}

func (a blockAccessor) SetSkyLight(x, y, z, level int) error {
	if !a.s.HasSkyLight() {
		return fmt.Errorf("%w: у мира нет небесного света", ErrUnsupported)
	}
	if level < 0 || level > MaxLightLevel {
		return fmt.Errorf("%w: уровень света %d", ErrInvalidArgument, level)
	}
	return a.s.setRaw(planeSkyLight, DefaultLayer, x, y, z, level)
}
