package devserver

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
)

const (
	sampleRate    = 22050
	bitsPerSample = 16
	channels      = 1
)

// SilentWAV renders ms milliseconds of mono 16-bit silence.
func SilentWAV(ms int) []byte {
	samples := sampleRate * ms / 1000
	dataSize := samples * channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}

func SilentWAVBase64(ms int) string {
	return base64.StdEncoding.EncodeToString(SilentWAV(ms))
}
