package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// convertBSON maps BSON-decoded values to plain JSON-compatible ones.
func convertBSON(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time()
	case primitive.Decimal128:
		return v.String()
	case primitive.A:
		items := make([]interface{}, 0, len(v))
		for _, item := range v {
			items = append(items, convertBSON(item))
		}
		return items
	case bson.M:
		fields := make(map[string]interface{}, len(v))
		for key, field := range v {
			fields[key] = convertBSON(field)
		}
		return fields
	case bson.D:
		fields := make(map[string]interface{}, len(v))
		for _, elem := range v {
			fields[elem.Key] = convertBSON(elem.Value)
		}
		return fields
	default:
		return v
	}
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
