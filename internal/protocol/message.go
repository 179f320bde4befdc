// Package protocol defines the brokerage wire protocol's closed set of
// message types: a 4-byte header shared by every message, and the
// fixed-size bodies for the four messages the brokerage/coordinator
// core actually handles. The remaining identifiers are reserved so the
// codec can still parse (and drop) a peer speaking the full FASTBuild
// protocol.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/kreid-dev/fbroker/internal/wire"
)

// MessageType is the closed set of message identifiers on the wire.
// Values must match the original FASTBuild protocol ordering so that a
// coordinator built from this package can share a wire format with an
// unmodified client or worker.
type MessageType uint8

const (
	MsgConnection MessageType = iota
	MsgStatus
	MsgRequestJob
	MsgNoJobAvailable
	MsgJob
	MsgJobResult
	MsgRequestManifest
	MsgManifest
	MsgRequestFile
	MsgFile
	MsgJobResultCompressed
	MsgConnectionAck
	MsgRequestWorkerList
	MsgWorkerList
	MsgSetWorkerStatus
	MsgUpdateWorkerInfo
)

func (t MessageType) String() string {
	switch t {
	case MsgConnection:
		return "Connection"
	case MsgStatus:
		return "Status"
	case MsgRequestJob:
		return "RequestJob"
	case MsgNoJobAvailable:
		return "NoJobAvailable"
	case MsgJob:
		return "Job"
	case MsgJobResult:
		return "JobResult"
	case MsgRequestManifest:
		return "RequestManifest"
	case MsgManifest:
		return "Manifest"
	case MsgRequestFile:
		return "RequestFile"
	case MsgFile:
		return "File"
	case MsgJobResultCompressed:
		return "JobResultCompressed"
	case MsgConnectionAck:
		return "ConnectionAck"
	case MsgRequestWorkerList:
		return "RequestWorkerList"
	case MsgWorkerList:
		return "WorkerList"
	case MsgSetWorkerStatus:
		return "SetWorkerStatus"
	case MsgUpdateWorkerInfo:
		return "UpdateWorkerInfo"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// knownMessageTypes are the identifiers the codec recognizes at all,
// even if only to skip them. Anything outside this set is
// ErrUnknownMessage.
var knownMessageTypes = map[MessageType]struct{}{
	MsgConnection:          {},
	MsgStatus:              {},
	MsgRequestJob:          {},
	MsgNoJobAvailable:      {},
	MsgJob:                 {},
	MsgJobResult:           {},
	MsgRequestManifest:     {},
	MsgManifest:            {},
	MsgRequestFile:         {},
	MsgFile:                {},
	MsgJobResultCompressed: {},
	MsgConnectionAck:       {},
	MsgRequestWorkerList:   {},
	MsgWorkerList:          {},
	MsgSetWorkerStatus:     {},
	MsgUpdateWorkerInfo:    {},
}

// fixedBodySize gives the exact header+body size (excluding payload)
// for the messages this package encodes and decodes. Messages reserved
// only for skip-and-drop compatibility are not listed here; the caller
// is expected to use the size declared in the header itself for those.
var fixedBodySize = map[MessageType]uint8{
	MsgRequestWorkerList: HeaderSize + 4 + 1 + 3 + 1, // protocol_version, platform, pad[3], want_full_info
	MsgWorkerList:        HeaderSize,
	MsgSetWorkerStatus:   HeaderSize + 1 + 1 + 4 + 1, // is_available, pad, protocol_version, platform
	MsgUpdateWorkerInfo:  HeaderSize,
}

// HeaderSize is the fixed size, in bytes, of every message header.
const HeaderSize = 4

// Header is the 4-byte prefix shared by every message on the wire.
type Header struct {
	MsgType    MessageType
	MsgSize    uint8 // size of header+body, excluding any payload
	HasPayload bool
}

// EncodeHeader writes the header's 4 bytes: type, size, has_payload,
// and a zero padding byte.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = uint8(h.MsgType)
	buf[1] = h.MsgSize
	if h.HasPayload {
		buf[2] = 1
	}
	buf[3] = 0
	return buf
}

// DecodeHeader parses the 4-byte header prefix of a received chunk.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", wire.ErrCorruptFrame, len(buf))
	}
	t := MessageType(buf[0])
	if _, ok := knownMessageTypes[t]; !ok {
		return Header{}, fmt.Errorf("%w: type %d", wire.ErrUnknownMessage, buf[0])
	}
	h := Header{
		MsgType:    t,
		MsgSize:    buf[1],
		HasPayload: buf[2] != 0,
	}
	if want, ok := fixedBodySize[t]; ok && h.MsgSize != want {
		return Header{}, fmt.Errorf("%w: %s declares size %d, want %d", wire.ErrCorruptFrame, t, h.MsgSize, want)
	}
	return h, nil
}

// RequestWorkerList is sent client/worker -> coordinator, no payload.
type RequestWorkerList struct {
	ProtocolVersion uint32
	Platform        uint8
	WantFullInfo    bool
}

// Encode serializes the fixed header+body.
func (m RequestWorkerList) Encode() []byte {
	buf := EncodeHeader(Header{
		MsgType: MsgRequestWorkerList,
		MsgSize: fixedBodySize[MsgRequestWorkerList],
	})
	buf = binary.LittleEndian.AppendUint32(buf, m.ProtocolVersion)
	buf = append(buf, m.Platform, 0, 0, 0)
	if m.WantFullInfo {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeRequestWorkerList parses the body following a validated header.
func DecodeRequestWorkerList(body []byte) (RequestWorkerList, error) {
	if len(body) < int(fixedBodySize[MsgRequestWorkerList]) {
		return RequestWorkerList{}, fmt.Errorf("%w: short RequestWorkerList body", wire.ErrCorruptFrame)
	}
	b := body[HeaderSize:]
	return RequestWorkerList{
		ProtocolVersion: binary.LittleEndian.Uint32(b[0:4]),
		Platform:        b[4],
		WantFullInfo:    b[8] != 0,
	}, nil
}

// WorkerListEntry is one worker in a MsgWorkerList payload. When the
// request had want_full_info=false, only Address is meaningful; the
// coordinator sends just the address for each live worker.
type WorkerListEntry struct {
	Address uint32
	Full    *WorkerListEntryInfo // nil unless want_full_info was set
}

// WorkerListEntryInfo mirrors registry.Info for wire purposes, keeping
// this package independent of the registry package.
type WorkerListEntryInfo struct {
	Version       string
	User          string
	Hostname      string
	Domainname    string
	Mode          string
	AvailableCPUs uint32
	TotalCPUs     uint32
	MemoryMiB     uint32
}

// EncodeWorkerListPayload builds the payload for MsgWorkerList: a u32
// count followed by that many entries. Each entry is either a bare u32
// address (full==false) or the descriptive strings+u32s followed by the
// u32 address (full==true), matching the specification's framing.
func EncodeWorkerListPayload(entries []WorkerListEntry, full bool) []byte {
	buf := wire.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		if !full {
			buf = wire.AppendUint32(buf, e.Address)
			continue
		}
		info := e.Full
		if info == nil {
			info = &WorkerListEntryInfo{}
		}
		buf = wire.AppendString(buf, info.Version)
		buf = wire.AppendString(buf, info.User)
		buf = wire.AppendString(buf, info.Hostname)
		buf = wire.AppendString(buf, info.Domainname)
		buf = wire.AppendString(buf, info.Mode)
		buf = wire.AppendUint32(buf, info.AvailableCPUs)
		buf = wire.AppendUint32(buf, info.TotalCPUs)
		buf = wire.AppendUint32(buf, info.MemoryMiB)
		buf = wire.AppendUint32(buf, e.Address)
	}
	return buf
}

// DecodeWorkerListPayload parses a MsgWorkerList payload. full must
// match what the original request declared via want_full_info; the
// wire format is otherwise ambiguous about which flavor is present.
func DecodeWorkerListPayload(payload []byte, full bool) ([]WorkerListEntry, error) {
	r := wire.NewStringReader(payload)
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	entries := make([]WorkerListEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if !full {
			addr, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			entries = append(entries, WorkerListEntry{Address: addr})
			continue
		}
		var info WorkerListEntryInfo
		if info.Version, err = r.ReadString(); err != nil {
			return nil, err
		}
		if info.User, err = r.ReadString(); err != nil {
			return nil, err
		}
		if info.Hostname, err = r.ReadString(); err != nil {
			return nil, err
		}
		if info.Domainname, err = r.ReadString(); err != nil {
			return nil, err
		}
		if info.Mode, err = r.ReadString(); err != nil {
			return nil, err
		}
		if info.AvailableCPUs, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if info.TotalCPUs, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if info.MemoryMiB, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		addr, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		entries = append(entries, WorkerListEntry{Address: addr, Full: &info})
	}
	if err := r.ExpectExhausted(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SetWorkerStatus is sent worker -> coordinator as both a heartbeat and
// an explicit deregistration (is_available=false).
type SetWorkerStatus struct {
	IsAvailable     bool
	ProtocolVersion uint32
	Platform        uint8
}

// Encode serializes the fixed header+body.
func (m SetWorkerStatus) Encode() []byte {
	buf := EncodeHeader(Header{
		MsgType: MsgSetWorkerStatus,
		MsgSize: fixedBodySize[MsgSetWorkerStatus],
	})
	if m.IsAvailable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, 0) // pad
	buf = binary.LittleEndian.AppendUint32(buf, m.ProtocolVersion)
	buf = append(buf, m.Platform)
	return buf
}

// DecodeSetWorkerStatus parses the body following a validated header.
func DecodeSetWorkerStatus(body []byte) (SetWorkerStatus, error) {
	if len(body) < int(fixedBodySize[MsgSetWorkerStatus]) {
		return SetWorkerStatus{}, fmt.Errorf("%w: short SetWorkerStatus body", wire.ErrCorruptFrame)
	}
	b := body[HeaderSize:]
	return SetWorkerStatus{
		IsAvailable:     b[0] != 0,
		ProtocolVersion: binary.LittleEndian.Uint32(b[2:6]),
		Platform:        b[6],
	}, nil
}

// UpdateWorkerInfo is sent worker -> coordinator with a payload of
// descriptive strings and CPU/memory counters. Per the specification's
// open question (c), implementations must accept it but some peers may
// never send it.
type UpdateWorkerInfo struct {
	Version       string
	User          string
	Hostname      string
	Domainname    string
	Mode          string
	NumCPUsUsed   uint32
	NumCPUsTotal  uint32
	MemoryMiB     uint32
}

// Encode serializes the fixed header; the variable body goes in the
// payload via EncodePayload.
func (m UpdateWorkerInfo) Encode() []byte {
	return EncodeHeader(Header{
		MsgType:    MsgUpdateWorkerInfo,
		MsgSize:    fixedBodySize[MsgUpdateWorkerInfo],
		HasPayload: true,
	})
}

// EncodePayload serializes the variable-length payload.
func (m UpdateWorkerInfo) EncodePayload() []byte {
	buf := wire.AppendString(nil, m.Version)
	buf = wire.AppendString(buf, m.User)
	buf = wire.AppendString(buf, m.Hostname)
	buf = wire.AppendString(buf, m.Domainname)
	buf = wire.AppendString(buf, m.Mode)
	buf = wire.AppendUint32(buf, m.NumCPUsUsed)
	buf = wire.AppendUint32(buf, m.NumCPUsTotal)
	buf = wire.AppendUint32(buf, m.MemoryMiB)
	return buf
}

// DecodeUpdateWorkerInfoPayload parses the variable-length payload.
func DecodeUpdateWorkerInfoPayload(payload []byte) (UpdateWorkerInfo, error) {
	r := wire.NewStringReader(payload)
	var m UpdateWorkerInfo
	var err error
	if m.Version, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.User, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Hostname, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Domainname, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Mode, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.NumCPUsUsed, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.NumCPUsTotal, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.MemoryMiB, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if err := r.ExpectExhausted(); err != nil {
		return m, err
	}
	return m, nil
}

// EncodeWorkerListHeader builds just the WorkerList header,
// used by the coordinator before appending the payload via
// EncodeWorkerListPayload.
func EncodeWorkerListHeader() []byte {
	return EncodeHeader(Header{
		MsgType:    MsgWorkerList,
		MsgSize:    fixedBodySize[MsgWorkerList],
		HasPayload: true,
	})
}
