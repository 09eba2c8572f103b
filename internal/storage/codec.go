package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Первый байт сохранённого значения секции - способ кодирования
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

// EncodeAll/DecodeAll безопасны для конкурентного использования,
// поэтому кодер и декодер общие на процесс
func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		var err error
		encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("zstd: %v", err))
		}
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		var err error
		decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(fmt.Sprintf("zstd: %v", err))
		}
	})
	return decoder
}

// compress кодирует данные секции. Без сжатия данные хранятся как есть
// с префиксом encodingRaw.
func compress(data []byte, enabled bool) []byte {
	if !enabled {
		out := make([]byte, 0, len(data)+1)
		out = append(out, encodingRaw)
		return append(out, data...)
	}
	out := make([]byte, 1, len(data)/4+16)
	out[0] = encodingZstd
	return zstdEncoder().EncodeAll(data, out)
}

// decompress читает значение независимо от того, с каким режимом оно было записано
func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("пустое значение секции")
	}
	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingZstd:
		out, err := zstdDecoder().DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("распаковка zstd: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("неизвестный способ кодирования секции %d", data[0])
}
