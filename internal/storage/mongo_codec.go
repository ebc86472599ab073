package storage

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	tDecimal     = reflect.TypeOf(decimal.Decimal{})
	tNullDecimal = reflect.TypeOf(decimal.NullDecimal{})
)

// NewRegistry returns the driver's default registry extended so that money
// fields are stored as Decimal128. Documents written by older clients as
// doubles or integers still decode.
func NewRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(tDecimal, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(tDecimal, bsoncodec.ValueDecoderFunc(decodeDecimal))
	reg.RegisterTypeEncoder(tNullDecimal, bsoncodec.ValueEncoderFunc(encodeNullDecimal))
	reg.RegisterTypeDecoder(tNullDecimal, bsoncodec.ValueDecoderFunc(decodeNullDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tDecimal {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{tDecimal}, Received: val}
	}
	return writeDecimal(vw, val.Interface().(decimal.Decimal))
}

func encodeNullDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tNullDecimal {
		return bsoncodec.ValueEncoderError{Name: "NullDecimalEncodeValue", Types: []reflect.Type{tNullDecimal}, Received: val}
	}
	nd := val.Interface().(decimal.NullDecimal)
	if !nd.Valid {
		return vw.WriteNull()
	}
	return writeDecimal(vw, nd.Decimal)
}

func writeDecimal(vw bsonrw.ValueWriter, d decimal.Decimal) error {
	d128, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tDecimal {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{tDecimal}, Received: val}
	}
	if vr.Type() == bsontype.Null {
		val.Set(reflect.ValueOf(decimal.Zero))
		return vr.ReadNull()
	}
	d, err := readDecimal(vr)
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(d))
	return nil
}

func decodeNullDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tNullDecimal {
		return bsoncodec.ValueDecoderError{Name: "NullDecimalDecodeValue", Types: []reflect.Type{tNullDecimal}, Received: val}
	}
	if vr.Type() == bsontype.Null {
		val.Set(reflect.ValueOf(decimal.NullDecimal{}))
		return vr.ReadNull()
	}
	d, err := readDecimal(vr)
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(decimal.NewNullDecimal(d)))
	return nil
}

func readDecimal(vr bsonrw.ValueReader) (decimal.Decimal, error) {
	switch vr.Type() {
	case bsontype.Decimal128:
		d128, err := vr.ReadDecimal128()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(d128.String())
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromFloat(f), nil
	case bsontype.Int32:
		i, err := vr.ReadInt32()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt32(i), nil
	case bsontype.Int64:
		i, err := vr.ReadInt64()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(i), nil
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, fmt.Errorf("cannot decode BSON %v into a decimal", vr.Type())
	}
}
