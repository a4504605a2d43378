package utils

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// 事件类型（消息前 4 字节）
const (
	EventTypeSettlement uint32 = 1 // 单笔委托划转
	EventTypeBatch      uint32 = 2 // 批量结算
)

var ErrShortEvent = errors.New("event payload too short")

// EncodeEvent 将 protobuf 消息编码为带事件类型前缀的二进制数据：
// - 前 4 字节为事件类型（uint32，小端序）
// - 后续为 protobuf 序列化数据（使用 MarshalAppend）
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32

	buf := make([]byte, 4, 4+proto.Size(msg)+extraBuffer)
	binary.LittleEndian.PutUint32(buf[:4], eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// EncodeStructEvent 字段集合以 structpb.Struct 编码，消费方无需共享 .proto 定义
func EncodeStructEvent(eventType uint32, fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("EncodeStructEvent: %w", err)
	}
	return EncodeEvent(eventType, st)
}

// DecodeStructEvent EncodeStructEvent 的逆操作
func DecodeStructEvent(data []byte) (uint32, map[string]any, error) {
	if len(data) < 4 {
		return 0, nil, ErrShortEvent
	}
	eventType := binary.LittleEndian.Uint32(data[:4])
	var st structpb.Struct
	if err := proto.Unmarshal(data[4:], &st); err != nil {
		return eventType, nil, fmt.Errorf("DecodeStructEvent: %w", err)
	}
	return eventType, st.AsMap(), nil
}
