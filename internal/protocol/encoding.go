// internal/protocol/encoding.go
package protocol

import "encoding/binary"

// bytesToBits unpacks LSB-first coil bytes into quantity booleans
func bytesToBits(data []byte, quantity int) []bool {
	bits := make([]bool, 0, quantity)
	for i := 0; i < quantity && i/8 < len(data); i++ {
		bits = append(bits, data[i/8]&(1<<uint(i%8)) != 0)
	}
	return bits
}

// bitsToBytes packs booleans LSB-first
func bitsToBytes(bits []bool) []byte {
	data := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return data
}

func bytesToRegisters(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return registers
}

func registersToBytes(registers []uint16) []byte {
	data := make([]byte, len(registers)*2)
	for i, r := range registers {
		binary.BigEndian.PutUint16(data[i*2:], r)
	}
	return data
}
