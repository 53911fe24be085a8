package danmaku

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"

	"github.com/andybalholm/brotli"
)

// 弹幕服务器操作码
const (
	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpMessage        uint32 = 5
	OpAuth           uint32 = 7
	OpAuthAck        uint32 = 8
)

// 包体编码版本
const (
	VerPlain  uint16 = 0
	VerInt    uint16 = 1
	VerZlib   uint16 = 2
	VerBrotli uint16 = 3
)

const headerLen = 16

// ErrMalformedPacket 帧头与数据长度不自洽
var ErrMalformedPacket = errors.New("malformed packet")

// Packet 弹幕协议的一个逻辑包
// 包头 16 字节大端：总长 u32、头长 u16、版本 u16、操作码 u32、序号 u32
type Packet struct {
	Ver  uint16
	Op   uint32
	Seq  uint32
	Body []byte
}

// Encode 序列化为一帧，发送方向版本固定为 1
func (p Packet) Encode() []byte {
	buf := make([]byte, headerLen+len(p.Body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerLen+len(p.Body)))
	binary.BigEndian.PutUint16(buf[4:6], headerLen)
	binary.BigEndian.PutUint16(buf[6:8], p.Ver)
	binary.BigEndian.PutUint32(buf[8:12], p.Op)
	binary.BigEndian.PutUint32(buf[12:16], p.Seq)
	copy(buf[headerLen:], p.Body)
	return buf
}

// NewAuthPacket 认证包
func NewAuthPacket(body []byte) Packet {
	return Packet{Ver: VerInt, Op: OpAuth, Seq: 1, Body: body}
}

// NewHeartbeatPacket 心跳包，包体为空
func NewHeartbeatPacket() Packet {
	return Packet{Ver: VerInt, Op: OpHeartbeat, Seq: 1}
}

// Split 把一帧拆成逻辑包列表。
// 一帧可以连续携带多个包；版本 2/3 的 message 包体解压后又是一串包，
// 用工作队列迭代展开，避免嵌套递归。
func Split(frame []byte) ([]Packet, error) {
	var packets []Packet
	queue := [][]byte{frame}

	for len(queue) > 0 {
		data := queue[0]
		queue = queue[1:]

		for offset := 0; offset < len(data); {
			if len(data)-offset < headerLen {
				return nil, ErrMalformedPacket
			}
			total := binary.BigEndian.Uint32(data[offset : offset+4])
			hLen := binary.BigEndian.Uint16(data[offset+4 : offset+6])
			ver := binary.BigEndian.Uint16(data[offset+6 : offset+8])
			op := binary.BigEndian.Uint32(data[offset+8 : offset+12])
			seq := binary.BigEndian.Uint32(data[offset+12 : offset+16])

			if int(total) < int(hLen) || offset+int(total) > len(data) || hLen < headerLen {
				return nil, ErrMalformedPacket
			}
			body := data[offset+int(hLen) : offset+int(total)]
			offset += int(total)

			if op == OpMessage && (ver == VerZlib || ver == VerBrotli) {
				inner, err := decompress(ver, body)
				if err != nil {
					return nil, err
				}
				queue = append(queue, inner)
				continue
			}

			packets = append(packets, Packet{Ver: ver, Op: op, Seq: seq, Body: body})
		}
	}
	return packets, nil
}

func decompress(ver uint16, body []byte) ([]byte, error) {
	switch ver {
	case VerZlib:
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case VerBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, nil
	}
}
