package world

// Column - устаревшее название чанка. В старой терминологии столбец
// состоит из "чанков" 16x16x16, которые в новой называются секциями.
// Доступ к блокам идёт тем же путём делегирования, что и у Chunk.
type Column struct {
	*Chunk
}

// AsColumn оборачивает чанк в устаревшее представление
func AsColumn(c *Chunk) *Column {
	return &Column{Chunk: c}
}

// GetChunk возвращает "чанк" (секцию) с индексом y или nil
func (col *Column) GetChunk(y int) *Section {
	return col.Section(y)
}

// ChunkCount возвращает количество присутствующих "чанков" (секций)
func (col *Column) ChunkCount() int {
	return col.SectionCount()
}
