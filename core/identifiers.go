package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Did is a decentralized identifier: method-scoped name plus optional
// path/query/fragment, e.g. "did:key:z6Mkf...#keys-1". Every signed
// artifact in the mesh binds to exactly one Did.
type Did struct {
	Method   string
	ID       string
	Path     string
	Query    string
	Fragment string
}

// ParseDid parses a canonical "did:<method>:<id>[/path][?query][#fragment]"
// string. It does not validate that the method is registered.
func ParseDid(s string) (Did, error) {
	if !strings.HasPrefix(s, "did:") {
		return Did{}, fmt.Errorf("core: %q is not a did: %w", s, ErrInvalidInput)
	}
	rest := strings.TrimPrefix(s, "did:")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Did{}, fmt.Errorf("core: malformed did %q: %w", s, ErrInvalidInput)
	}
	d := Did{Method: parts[0]}
	id := parts[1]

	if i := strings.IndexByte(id, '#'); i >= 0 {
		d.Fragment = id[i+1:]
		id = id[:i]
	}
	if i := strings.IndexByte(id, '?'); i >= 0 {
		d.Query = id[i+1:]
		id = id[:i]
	}
	if i := strings.IndexByte(id, '/'); i >= 0 {
		d.Path = id[i+1:]
		id = id[:i]
	}
	if id == "" {
		return Did{}, fmt.Errorf("core: empty did id in %q: %w", s, ErrInvalidInput)
	}
	d.ID = id
	return d, nil
}

// String renders the canonical form used to key every signed artifact.
func (d Did) String() string {
	var b strings.Builder
	b.WriteString("did:")
	b.WriteString(d.Method)
	b.WriteByte(':')
	b.WriteString(d.ID)
	if d.Path != "" {
		b.WriteByte('/')
		b.WriteString(d.Path)
	}
	if d.Query != "" {
		b.WriteByte('?')
		b.WriteString(d.Query)
	}
	if d.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(d.Fragment)
	}
	return b.String()
}

func (d Did) IsZero() bool { return d.Method == "" && d.ID == "" }

// MarshalJSON/UnmarshalJSON let Did participate in envelopes and ledger
// records as a plain JSON string rather than a nested object.
func (d Did) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Did) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*d = Did{}
		return nil
	}
	parsed, err := ParseDid(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// HashAlg identifies the hash function bound into a Cid.
type HashAlg uint8

const (
	HashSHA256 HashAlg = iota + 1
)

// Codec identifies the content encoding bound into a Cid.
type Codec uint8

const (
	CodecRaw Codec = iota + 1
	CodecDagBlock
	CodecJSON
)

// Cid is a self-certifying content identifier: version + codec + hash
// algorithm + digest. Two Cids are equal iff every field matches.
type Cid struct {
	Version uint8
	Codec   Codec
	Alg     HashAlg
	Sum     [32]byte
}

// NewCid derives a Cid over raw bytes using the given codec.
func NewCid(codec Codec, data []byte) Cid {
	return Cid{Version: 1, Codec: codec, Alg: HashSHA256, Sum: sha256.Sum256(data)}
}

func (c Cid) IsZero() bool { return c == Cid{} }

// Bytes returns the fixed-width wire encoding: version, codec, alg, digest.
func (c Cid) Bytes() []byte {
	out := make([]byte, 3+32)
	out[0] = c.Version
	out[1] = byte(c.Codec)
	out[2] = byte(c.Alg)
	copy(out[3:], c.Sum[:])
	return out
}

// String renders a hex-prefixed textual form, "cidv1-<codec>-<hexdigest>".
func (c Cid) String() string {
	return fmt.Sprintf("cidv%d-%d-%s", c.Version, c.Codec, hex.EncodeToString(c.Sum[:]))
}

func (c Cid) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *Cid) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*c = Cid{}
		return nil
	}
	parsed, err := ParseCid(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCid parses the textual form produced by Cid.String.
func ParseCid(s string) (Cid, error) {
	var version int
	var codec int
	var digest string
	if n, err := fmt.Sscanf(s, "cidv%d-%d-%s", &version, &codec, &digest); err != nil || n != 3 {
		return Cid{}, fmt.Errorf("core: malformed cid %q: %w", s, ErrInvalidInput)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != 32 {
		return Cid{}, fmt.Errorf("core: malformed cid digest %q: %w", s, ErrInvalidInput)
	}
	var c Cid
	c.Version = uint8(version)
	c.Codec = Codec(codec)
	c.Alg = HashSHA256
	copy(c.Sum[:], raw)
	return c, nil
}

// Less orders Cids by their digest bytes, used to keep merkle folds and
// canonical encodings deterministic.
func (c Cid) Less(o Cid) bool {
	return strings.Compare(string(c.Sum[:]), string(o.Sum[:])) < 0
}

// Link is an ordered edge from a DagBlock to a child block.
type Link struct {
	ChildCid Cid    `json:"child_cid"`
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
}

// sortLinks orders links by name then Cid, per the canonical encoding rule
// in spec §4.1.
func sortLinks(links []Link) []Link {
	out := append([]Link(nil), links...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].childLess(out[j])
	})
	return out
}

func (l Link) childLess(o Link) bool { return l.ChildCid.Less(o.ChildCid) }

// canonicalEncode implements the DAG integrity algorithm from spec §4.1:
// Cid = hash(codec || canonical-encoding(data, links, timestamp, author, scope)).
// Numeric fields are fixed width; links are sorted here before encoding.
func canonicalEncode(codec Codec, data []byte, links []Link, timestampUnixNano int64, author Did, scope string) []byte {
	buf := make([]byte, 0, len(data)+64+len(links)*48)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestampUnixNano))
	buf = append(buf, byte(codec))
	buf = append(buf, tsBuf[:]...)

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, data...)

	authorBytes := []byte(author.String())
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(authorBytes)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, authorBytes...)

	scopeBytes := []byte(scope)
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(scopeBytes)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, scopeBytes...)

	sorted := sortLinks(links)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(sorted)))
	buf = append(buf, countBuf[:]...)
	for _, l := range sorted {
		buf = append(buf, l.ChildCid.Bytes()...)
		nameBytes := []byte(l.Name)
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(nameBytes)))
		buf = append(buf, countBuf[:]...)
		buf = append(buf, nameBytes...)
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], l.Size)
		buf = append(buf, sizeBuf[:]...)
	}
	return buf
}
