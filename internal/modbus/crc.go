// Package modbus 是 MODBUS RTU 客户端：帧编解码、串口传输、相机与显示屏操作。
package modbus

// CRC16 MODBUS CRC16，多项式 0xA001，初值 0xFFFF
func CRC16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC 追加 CRC，低字节在前
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// CheckCRC 校验帧尾的 CRC
func CheckCRC(frame []byte) bool {
	n := len(frame)
	if n < 3 {
		return false
	}
	got := uint16(frame[n-2]) | uint16(frame[n-1])<<8
	return got == CRC16(frame[:n-2])
}
