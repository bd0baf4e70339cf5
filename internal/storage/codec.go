package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/distant-lod/internal/merge"
)

// Codec кодирует значения хранилища: JSON, сжатый zstd.
// Один Codec можно использовать из нескольких горутин.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации: %w", err)
	}
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *Codec) Unmarshal(raw []byte, v interface{}) error {
	data, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return fmt.Errorf("ошибка распаковки: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации: %w", err)
	}
	return nil
}

// DecodeCell восстанавливает ячейку; материал поверхности указывает на материал ячейки
func (c *Codec) DecodeCell(raw []byte) (*merge.CellData, error) {
	var data merge.CellData
	if err := c.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data.Surface != nil {
		data.Surface.Material = data.Material
	}
	return &data, nil
}

func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
