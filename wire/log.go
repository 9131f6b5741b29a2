package wire

import (
	"go.uber.org/zap/zapcore"
)

// MarshalLogObject implements zapcore.ObjectMarshaler to allow logging of Frame with zap.Object
func (f Frame) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("type", string(f.Type))
	if f.ID != 0 {
		e.AddInt64("id", f.ID)
	}
	if f.Name != "" {
		e.AddString("name", f.Name)
	}
	e.AddInt("args", len(f.Args))
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler to allow logging of Object with zap.Object
func (o *Object) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("id", o.ID)
	e.AddString("type", o.Type)
	if o.Rev != "" {
		e.AddString("rev", o.Rev)
	}
	if o.TS != 0 {
		e.AddInt64("ts", o.TS)
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler to allow logging of State with zap.Object
func (s *State) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddBool("ack", s.Ack)
	if s.From != "" {
		e.AddString("from", s.From)
	}
	e.AddInt64("ts", s.TS)
	return e.AddReflected("val", s.Val)
}

// MarshalLogObject implements zapcore.ObjectMarshaler to allow logging of PermissionError with zap.Object
func (err *PermissionError) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("operation", err.Operation)
	e.AddString("type", err.Type)
	e.AddString("id", err.ID)
	return nil
}
