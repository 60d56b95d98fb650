package parquetwriter

import (
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/schema"
	"github.com/pingcap/errors"

	"parquetconv/internal/jobmodel"
)

// physicalType returns the Parquet physical type, converted (logical)
// type, and type length for a declared logical type. Nullability is
// always Optional, per the encoding contract.
func physicalType(t jobmodel.LogicalType) (parquet.Type, schema.ConvertedType, int32) {
	switch t {
	case jobmodel.TypeString:
		return parquet.Types.ByteArray, schema.ConvertedTypes.UTF8, -1
	case jobmodel.TypeInteger:
		return parquet.Types.Int64, schema.ConvertedTypes.None, -1
	case jobmodel.TypeFloat:
		return parquet.Types.Double, schema.ConvertedTypes.None, -1
	case jobmodel.TypeBoolean:
		return parquet.Types.Boolean, schema.ConvertedTypes.None, -1
	case jobmodel.TypeDate:
		return parquet.Types.Int32, schema.ConvertedTypes.Date, -1
	case jobmodel.TypeDatetime:
		return parquet.Types.Int64, schema.ConvertedTypes.TimestampMillis, -1
	case jobmodel.TypeTimestamp:
		return parquet.Types.Int64, schema.ConvertedTypes.TimestampMillis, -1
	default:
		return parquet.Types.ByteArray, schema.ConvertedTypes.UTF8, -1
	}
}

// buildSchema constructs the Parquet group node for the declared
// columns, in schema order.
func buildSchema(columns []jobmodel.ColumnSpec) (*schema.GroupNode, error) {
	fields := make([]schema.Node, len(columns))
	for i, col := range columns {
		physical, converted, typeLen := physicalType(col.Type)
		node, err := schema.NewPrimitiveNodeConverted(
			col.Name,
			parquet.Repetitions.Optional,
			physical, converted,
			typeLen, 0, 0,
			-1,
		)
		if err != nil {
			return nil, errors.Trace(err)
		}
		fields[i] = node
	}
	return schema.NewGroupNode("schema", parquet.Repetitions.Required, fields, -1)
}
