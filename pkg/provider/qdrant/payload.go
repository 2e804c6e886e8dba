package qdrant

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/strataio/strata/pkg/models"
)

// payloadToMetadata converts a Qdrant payload into plain JSON-compatible
// values. Integers stay int64; the rest map one-to-one.
func payloadToMetadata(payload map[string]*pb.Value) models.Metadata {
	if len(payload) == 0 {
		return nil
	}
	meta := make(models.Metadata, len(payload))
	for key, value := range payload {
		meta[key] = valueToInterface(value)
	}
	return meta
}

func valueToInterface(value *pb.Value) interface{} {
	switch v := value.GetKind().(type) {
	case *pb.Value_NullValue:
		return nil
	case *pb.Value_BoolValue:
		return v.BoolValue
	case *pb.Value_IntegerValue:
		return v.IntegerValue
	case *pb.Value_DoubleValue:
		return v.DoubleValue
	case *pb.Value_StringValue:
		return v.StringValue
	case *pb.Value_ListValue:
		items := make([]interface{}, 0, len(v.ListValue.GetValues()))
		for _, item := range v.ListValue.GetValues() {
			items = append(items, valueToInterface(item))
		}
		return items
	case *pb.Value_StructValue:
		fields := make(map[string]interface{}, len(v.StructValue.GetFields()))
		for key, field := range v.StructValue.GetFields() {
			fields[key] = valueToInterface(field)
		}
		return fields
	default:
		return nil
	}
}

// metadataToPayload converts plain metadata into Qdrant payload values.
// Unsupported types become null rather than failing the whole write.
func metadataToPayload(meta models.Metadata) map[string]*pb.Value {
	if len(meta) == 0 {
		return nil
	}
	payload := make(map[string]*pb.Value, len(meta))
	for key, value := range meta {
		payload[key] = interfaceToValue(value)
	}
	return payload
}

func interfaceToValue(value interface{}) *pb.Value {
	switch v := value.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: v}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(v)}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: v}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(v)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: v}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	case []interface{}:
		items := make([]*pb.Value, 0, len(v))
		for _, item := range v {
			items = append(items, interfaceToValue(item))
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: items}}}
	case map[string]interface{}:
		fields := make(map[string]*pb.Value, len(v))
		for key, field := range v {
			fields[key] = interfaceToValue(field)
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	default:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	}
}
