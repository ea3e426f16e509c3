package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/gopress-cms/auth/id"
)

const sessionFormatVersion = 1

var errCorruptSession = errors.New("corrupt session blob")

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field too long")
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return "", errCorruptSession
	}
	n := binary.BigEndian.Uint16(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errCorruptSession
	}
	return string(b), nil
}

// Encode serializes a session into the compact wire form stored in Redis.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersion)

	sid := s.ID.UUID()
	uid := s.UserID.UUID()
	buf.Write(sid[:])
	buf.Write(uid[:])

	if len(s.Roles) > 255 {
		return nil, errors.New("too many roles")
	}
	buf.WriteByte(byte(len(s.Roles)))
	for _, role := range s.Roles {
		if err := writeString(&buf, role); err != nil {
			return nil, err
		}
	}

	if len(s.Data) > 255 {
		return nil, errors.New("too many data entries")
	}
	buf.WriteByte(byte(len(s.Data)))
	for k, v := range s.Data {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}

	if err := writeString(&buf, s.IP); err != nil {
		return nil, err
	}
	if err := writeString(&buf, s.UserAgent); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LastSeenAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses the wire form back into a session.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != sessionFormatVersion {
		return nil, errCorruptSession
	}

	s := &Session{}

	var sid, uid [16]byte
	if _, err := io.ReadFull(r, sid[:]); err != nil {
		return nil, errCorruptSession
	}
	if _, err := io.ReadFull(r, uid[:]); err != nil {
		return nil, errCorruptSession
	}
	s.ID = id.SessionFromUUID(uuid.UUID(sid))
	s.UserID = id.UserFromUUID(uuid.UUID(uid))

	roleCount, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptSession
	}
	if roleCount > 0 {
		s.Roles = make([]string, roleCount)
		for i := range s.Roles {
			if s.Roles[i], err = readString(r); err != nil {
				return nil, err
			}
		}
	}

	dataCount, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptSession
	}
	if dataCount > 0 {
		s.Data = make(map[string]string, dataCount)
		for i := 0; i < int(dataCount); i++ {
			k, err := readString(r)
			if err != nil {
				return nil, err
			}
			v, err := readString(r)
			if err != nil {
				return nil, err
			}
			s.Data[k] = v
		}
	}

	if s.IP, err = readString(r); err != nil {
		return nil, err
	}
	if s.UserAgent, err = readString(r); err != nil {
		return nil, err
	}

	var createdMilli, seenMilli int64
	if err := binary.Read(r, binary.BigEndian, &createdMilli); err != nil {
		return nil, errCorruptSession
	}
	if err := binary.Read(r, binary.BigEndian, &seenMilli); err != nil {
		return nil, errCorruptSession
	}
	s.CreatedAt = time.UnixMilli(createdMilli).UTC()
	s.LastSeenAt = time.UnixMilli(seenMilli).UTC()

	return s, nil
}
