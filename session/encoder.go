package session

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/MrEthical07/authgate/provider"
)

const (
	formatVersionCurrent = 2
	formatVersionV1      = 1
)

// ErrCorruptSession is returned when a stored value cannot be decoded.
var ErrCorruptSession = errors.New("corrupt session record")

// Record is one persisted provider session.
type Record struct {
	Session *provider.Session
	// SavedAt is the unix time of the last write. Zero for v1 records.
	SavedAt int64
}

// Encode serializes r in the current format.
func Encode(r *Record) ([]byte, error) {
	if r == nil || r.Session == nil {
		return nil, errors.New("nil session")
	}
	s := r.Session
	var buf bytes.Buffer

	buf.WriteByte(formatVersionCurrent)

	if len(s.TokenType) > math.MaxUint8 {
		return nil, errors.New("token type too long")
	}
	buf.WriteByte(byte(len(s.TokenType)))
	buf.WriteString(s.TokenType)

	for _, tok := range []string{s.AccessToken, s.RefreshToken} {
		if len(tok) > math.MaxUint16 {
			return nil, errors.New("token too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(tok))); err != nil {
			return nil, err
		}
		buf.WriteString(tok)
	}

	for _, v := range []int64{s.ExpiresIn, s.ExpiresAt, r.SavedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	var user []byte
	if s.User != nil {
		var err error
		if user, err = json.Marshal(s.User); err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(user))); err != nil {
		return nil, err
	}
	buf.Write(user)

	return buf.Bytes(), nil
}

// Decode parses a record written by any known format version.
func Decode(data []byte) (*Record, error) {
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return r, nil
}

func decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersionCurrent && version != formatVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &provider.Session{}
	r := &Record{Session: s}

	typeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	tokenType := make([]byte, typeLen)
	if _, err := io.ReadFull(reader, tokenType); err != nil {
		return nil, err
	}
	s.TokenType = string(tokenType)

	tokens := make([]string, 2)
	for i := range tokens {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		tok := make([]byte, n)
		if _, err := io.ReadFull(reader, tok); err != nil {
			return nil, err
		}
		tokens[i] = string(tok)
	}
	s.AccessToken, s.RefreshToken = tokens[0], tokens[1]

	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresIn); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if version >= formatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &r.SavedAt); err != nil {
			return nil, err
		}
	}

	var userLen uint32
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	if int64(userLen) > int64(reader.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	if userLen > 0 {
		user := make([]byte, userLen)
		if _, err := io.ReadFull(reader, user); err != nil {
			return nil, err
		}
		s.User = &provider.User{}
		if err := json.Unmarshal(user, s.User); err != nil {
			return nil, err
		}
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes")
	}

	return r, nil
}
