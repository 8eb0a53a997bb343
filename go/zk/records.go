/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"encoding/binary"
	"errors"
	"reflect"
	"runtime"
	"strings"
)

// Records are serialized in jute encoding: big-endian integers,
// length-prefixed byte strings, UTF-8 strings, bool as one byte. A nil byte
// slice is encoded with length -1.

var (
	// ErrUnhandledFieldType means a record carries a field the codec
	// cannot walk.
	ErrUnhandledFieldType = errors.New("zk: unsupported record field type")
	// ErrPtrExpected means a record was passed by value or as a nil
	// pointer.
	ErrPtrExpected = errors.New("zk: record codec requires a non-nil struct pointer")
	// ErrShortBuffer means the buffer ended inside a record.
	ErrShortBuffer = errors.New("zk: buffer too short for record")
)

// ACL holds one access-control entry of a znode.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

// Stat is the metadata block the server returns with most replies.
type Stat struct {
	Czxid          int64 // The zxid of the change that caused this znode to be created.
	Mzxid          int64 // The zxid of the change that last modified this znode.
	Ctime          int64 // The time in milliseconds from epoch when this znode was created.
	Mtime          int64 // The time in milliseconds from epoch when this znode was last modified.
	Version        int32 // The number of changes to the data of this znode.
	Cversion       int32 // The number of changes to the children of this znode.
	Aversion       int32 // The number of changes to the ACL of this znode.
	EphemeralOwner int64 // The session id of the owner if the znode is ephemeral, zero otherwise.
	DataLength     int32 // The length of the data field of this znode.
	NumChildren    int32 // The number of children of this znode.
	Pzxid          int64 // The zxid of the change that last modified the children.
}

type requestHeader struct {
	Xid    int32
	Opcode int32
}

type replyHeader struct {
	Xid  int32
	Zxid int64
	Err  ErrCode
}

type connectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    int64
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

type connectResponse struct {
	ProtocolVersion int32
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

type setAuthRequest struct {
	Type   int32
	Scheme string
	Auth   []byte
}

type setWatchesRequest struct {
	RelativeZxid int64
	DataWatches  []string
	ExistWatches []string
	ChildWatches []string
}

type saslRequest struct {
	Token []byte
}

type saslResponse struct {
	Token []byte
}

type watcherEvent struct {
	Type  EventType
	State State
	Path  string
}

// Generic request/response shapes shared by several opcodes.

type pathRequest struct {
	Path string
}

type pathResponse struct {
	Path string
}

type pathVersionRequest struct {
	Path    string
	Version int32
}

type pathWatchRequest struct {
	Path  string
	Watch bool
}

type statResponse struct {
	Stat Stat
}

type createRequest struct {
	Path  string
	Data  []byte
	ACL   []ACL
	Flags int32
}

type createResponse pathResponse
type deleteRequest pathVersionRequest
type existsRequest pathWatchRequest
type existsResponse statResponse

type getDataRequest pathWatchRequest

type getDataResponse struct {
	Data []byte
	Stat Stat
}

type setDataRequest struct {
	Path    string
	Data    []byte
	Version int32
}

type setDataResponse statResponse

type getChildren2Request pathWatchRequest

type getChildren2Response struct {
	Children []string
	Stat     Stat
}

type getACLRequest pathRequest

type getACLResponse struct {
	ACL  []ACL
	Stat Stat
}

type setACLRequest struct {
	Path    string
	ACL     []ACL
	Version int32
}

type setACLResponse statResponse

type syncRequest pathRequest
type syncResponse pathResponse

// The codec walks record structs with reflection instead of generated
// per-record marshalers: the record set is small and fixed, and none of the
// field types nest pointers or interfaces. Truncated buffers surface as
// ErrShortBuffer via catchShortBuffer rather than per-access bounds checks.

// catchShortBuffer converts the out-of-range panic of an exhausted buffer
// into ErrShortBuffer. Any other panic is re-raised.
func catchShortBuffer(err *error) {
	if r := recover(); r != nil {
		e, ok := r.(runtime.Error)
		if !ok || !strings.Contains(e.Error(), "out of range") {
			panic(r)
		}
		*err = ErrShortBuffer
	}
}

// recordValue unwraps the mandatory non-nil struct pointer both codec
// entry points take.
func recordValue(st any) (reflect.Value, error) {
	v := reflect.ValueOf(st)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, ErrPtrExpected
	}
	return v.Elem(), nil
}

// decodePacket fills the record struct pointed to by st from buf and
// returns the number of bytes consumed.
func decodePacket(buf []byte, st any) (n int, err error) {
	defer catchShortBuffer(&err)
	v, err := recordValue(st)
	if err != nil {
		return 0, err
	}
	return decodeValue(buf, v)
}

func decodeValue(buf []byte, v reflect.Value) (int, error) {
	switch v.Kind() {
	case reflect.Bool:
		v.SetBool(buf[0] != 0)
		return 1, nil
	case reflect.Int32:
		// Narrow to int32 before widening so negative wire values
		// (reserved xids, error codes) keep their sign.
		v.SetInt(int64(int32(binary.BigEndian.Uint32(buf))))
		return 4, nil
	case reflect.Int64:
		v.SetInt(int64(binary.BigEndian.Uint64(buf)))
		return 8, nil
	case reflect.String:
		ln := int(binary.BigEndian.Uint32(buf))
		v.SetString(string(buf[4 : 4+ln]))
		return 4 + ln, nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return decodeBytes(buf, v)
		}
		return decodeVector(buf, v)
	case reflect.Struct:
		n := 0
		for i := 0; i < v.NumField(); i++ {
			n2, err := decodeValue(buf[n:], v.Field(i))
			n += n2
			if err != nil {
				return n, err
			}
		}
		return n, nil
	}
	return 0, ErrUnhandledFieldType
}

func decodeBytes(buf []byte, v reflect.Value) (int, error) {
	ln := int(int32(binary.BigEndian.Uint32(buf)))
	if ln < 0 {
		// Length -1 is the wire form of a nil buffer.
		v.SetBytes(nil)
		return 4, nil
	}
	b := make([]byte, ln)
	copy(b, buf[4:4+ln])
	v.SetBytes(b)
	return 4 + ln, nil
}

func decodeVector(buf []byte, v reflect.Value) (int, error) {
	count := int(binary.BigEndian.Uint32(buf))
	elems := reflect.MakeSlice(v.Type(), count, count)
	v.Set(elems)
	n := 4
	for i := 0; i < count; i++ {
		n2, err := decodeValue(buf[n:], elems.Index(i))
		n += n2
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// encodePacket serializes the record struct pointed to by st into buf and
// returns the number of bytes written.
func encodePacket(buf []byte, st any) (n int, err error) {
	defer catchShortBuffer(&err)
	v, err := recordValue(st)
	if err != nil {
		return 0, err
	}
	return encodeValue(buf, v)
}

func encodeValue(buf []byte, v reflect.Value) (int, error) {
	switch v.Kind() {
	case reflect.Bool:
		buf[0] = 0
		if v.Bool() {
			buf[0] = 1
		}
		return 1, nil
	case reflect.Int32:
		binary.BigEndian.PutUint32(buf, uint32(v.Int()))
		return 4, nil
	case reflect.Int64:
		binary.BigEndian.PutUint64(buf, uint64(v.Int()))
		return 8, nil
	case reflect.String:
		s := v.String()
		binary.BigEndian.PutUint32(buf, uint32(len(s)))
		copy(buf[4:4+len(s)], s)
		return 4 + len(s), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encodeBytes(buf, v)
		}
		return encodeVector(buf, v)
	case reflect.Struct:
		n := 0
		for i := 0; i < v.NumField(); i++ {
			n2, err := encodeValue(buf[n:], v.Field(i))
			n += n2
			if err != nil {
				return n, err
			}
		}
		return n, nil
	}
	return 0, ErrUnhandledFieldType
}

func encodeBytes(buf []byte, v reflect.Value) (int, error) {
	if v.IsNil() {
		binary.BigEndian.PutUint32(buf, uint32(0xffffffff))
		return 4, nil
	}
	b := v.Bytes()
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:4+len(b)], b)
	return 4 + len(b), nil
}

func encodeVector(buf []byte, v reflect.Value) (int, error) {
	count := v.Len()
	binary.BigEndian.PutUint32(buf, uint32(count))
	n := 4
	for i := 0; i < count; i++ {
		n2, err := encodeValue(buf[n:], v.Index(i))
		n += n2
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
