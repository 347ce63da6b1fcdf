package replica

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Control record format version written by Encode
const (
	FormatMajor = 3
	FormatMinor = 0
)

const versionPrefix = "# version "

// Encode renders the persistent part of a replica state as a control record
func Encode(flags Flags, sticky []StickyRecord) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s%d.%d\n", versionPrefix, FormatMajor, FormatMinor)
	if flags.Has(FlagPrecious) {
		b.WriteString("precious\n")
	}
	if flags.Has(FlagCached) {
		b.WriteString("cached\n")
	}
	if flags.Has(FlagFromClient) {
		b.WriteString("from_client\n")
	}
	if flags.Has(FlagFromStore) {
		b.WriteString("from_store\n")
	}
	for _, r := range sticky {
		fmt.Fprintf(&b, "sticky:%s:%d\n", r.Owner, r.Expire)
	}
	return b.Bytes()
}

// Decoded is the result of reading a control record
type Decoded struct {
	Flags  Flags
	Sticky []StickyRecord

	// Legacy is set when the record has no version header
	Legacy bool

	// Invalid lists lines that could not be understood. A record with
	// invalid lines or contradicting flags decodes with FlagError set.
	Invalid []string
}

// Decode parses a control record. Unknown tokens and malformed sticky
// records do not fail the decode; they put the state in ERROR. A version
// header that cannot be parsed or names an unsupported version is an error.
func Decode(data []byte) (*Decoded, error) {
	d := &Decoded{Legacy: true}
	var st state

	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first && strings.HasPrefix(line, versionPrefix) {
			if err := checkVersion(strings.TrimPrefix(line, versionPrefix)); err != nil {
				return nil, err
			}
			d.Legacy = false
			first = false
			continue
		}
		first = false
		if strings.HasPrefix(line, "#") {
			continue
		}

		switch line {
		case "precious":
			st.flags |= FlagPrecious
		case "cached":
			st.flags |= FlagCached
		case "from_client", "receiving.client", "receiving.cient":
			st.flags |= FlagFromClient
		case "from_store", "receiving.store":
			st.flags |= FlagFromStore
		default:
			r, ok := parseSticky(line)
			if !ok {
				d.Invalid = append(d.Invalid, line)
				continue
			}
			st.addSticky(r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read control record: %w", err)
	}

	if len(d.Invalid) > 0 || !consistent(st.flags) {
		st.flags |= FlagError
	}
	d.Flags = st.flags
	d.Sticky = st.sticky
	return d, nil
}

func checkVersion(v string) error {
	major, minor, ok := strings.Cut(strings.TrimSpace(v), ".")
	if !ok {
		return fmt.Errorf("%w: version %q", ErrMalformedInput, v)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("%w: version %q", ErrMalformedInput, v)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil {
		return fmt.Errorf("%w: version %q", ErrMalformedInput, v)
	}
	if maj > FormatMajor || mnr != FormatMinor {
		return fmt.Errorf("%w: %d.%d (supported %d.%d)", ErrUnsupportedVersion, maj, mnr, FormatMajor, FormatMinor)
	}
	return nil
}

// parseSticky accepts sticky, sticky:owner and sticky:owner:expiry
func parseSticky(line string) (StickyRecord, bool) {
	fields := strings.Split(line, ":")
	if fields[0] != "sticky" || len(fields) > 3 {
		return StickyRecord{}, false
	}
	r := StickyRecord{Owner: DefaultStickyOwner, Expire: NeverExpires}
	if len(fields) >= 2 {
		if fields[1] == "" {
			return StickyRecord{}, false
		}
		r.Owner = fields[1]
	}
	if len(fields) == 3 {
		expire, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || expire < NeverExpires {
			return StickyRecord{}, false
		}
		r.Expire = expire
	}
	return r, true
}

// consistent rejects flag combinations no transition sequence can produce
func consistent(f Flags) bool {
	switch {
	case f&FlagPrecious != 0 && f&FlagCached != 0:
		return false
	case f&FlagFromClient != 0 && f&FlagFromStore != 0:
		return false
	case f.Has(FlagPrecious|FlagCached) && f.Has(flagsReceiving):
		return false
	}
	return true
}
