// Copyright 2016 The Sandpass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keepass

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/xml"
	"io"
	"io/ioutil"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"kdbxreader/pkg/hashedblock"
	"kdbxreader/pkg/innerstream"
	"kdbxreader/pkg/uuids"
)

// xmlReader walks a KDBX XML document with a single xml.Decoder,
// drawing protected attribute plaintext from stream in document order
// as it goes. There is exactly one consumer of stream, matching its
// single-consumer contract.
type xmlReader struct {
	dec    *xml.Decoder
	stream *innerstream.Stream
	db     *Database
	opts   *OpenOptions

	binaries map[string][]byte
}

// decodeDatabase reads a complete KeePassFile document from r into db.
// stream must already be seeded from the header's protected stream key.
func decodeDatabase(r io.Reader, db *Database, stream *innerstream.Stream, opts *OpenOptions) error {
	xr := &xmlReader{
		dec:      xml.NewDecoder(r),
		stream:   stream,
		db:       db,
		opts:     opts,
		binaries: make(map[string][]byte),
	}
	return xr.run()
}

func (xr *xmlReader) run() error {
	// db arrives with the placeholder root group newDatabase creates;
	// clear it so that only a Group under Root in the document supplies one.
	xr.db.root = nil
	for {
		tok, err := xr.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return wrapTokenError(err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "KeePassFile" {
			if err := skipElement(xr.dec); err != nil {
				return wrapError(XmlMalformed, "skip unknown root element", err)
			}
			continue
		}
		if err := xr.decodeKeePassFile(se); err != nil {
			return err
		}
	}
	if xr.db.root == nil {
		if xr.opts.strict() {
			return newError(XmlMalformed, "missing root group")
		}
		Logger.Printf("repair: synthesizing missing root group")
		xr.db.root = &Group{db: xr.db, UUID: xr.db.newUUID()}
	}
	return nil
}

func (xr *xmlReader) decodeKeePassFile(se xml.StartElement) error {
	sawRoot := false
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Meta":
			return xr.decodeMeta(child)
		case "Root":
			if sawRoot {
				if xr.opts.strict() {
					return newError(XmlMalformed, "multiple Root elements")
				}
				Logger.Printf("repair: discarding extra Root element")
				return skipElement(xr.dec)
			}
			sawRoot = true
			return xr.decodeRoot(child)
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeMeta(se xml.StartElement) error {
	m := &xr.db.Meta
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Generator":
			return xr.decodeText(&m.Generator)
		case "HeaderHash":
			s, err := readText(xr.dec)
			if err != nil {
				return err
			}
			if s != "" {
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return newError(XmlMalformed, "HeaderHash: invalid base64")
				}
				m.HeaderHash = b
			}
			return nil
		case "DatabaseName":
			return xr.decodeText(&m.Name)
		case "DatabaseNameChanged":
			return xr.decodeTime(&m.NameChanged)
		case "DatabaseDescription":
			return xr.decodeText(&m.Description)
		case "DatabaseDescriptionChanged":
			return xr.decodeTime(&m.DescriptionChanged)
		case "DefaultUserName":
			return xr.decodeText(&m.DefaultUsername)
		case "DefaultUserNameChanged":
			return xr.decodeTime(&m.DefaultUsernameChanged)
		case "Color":
			return xr.decodeText(&m.Color)
		case "MasterKeyChanged":
			return xr.decodeTime(&m.MasterKeyChanged)
		case "MasterKeyChangeRec":
			return xr.decodeInt(&m.MasterKeyChangeRec)
		case "MasterKeyChangeForce":
			return xr.decodeInt(&m.MasterKeyChangeForce)
		case "RecycleBinEnabled":
			return xr.decodeBool(&m.RecycleBinEnabled)
		case "RecycleBinUUID":
			return xr.decodeUUID(&m.RecycleBinUUID)
		case "RecycleBinChanged":
			return xr.decodeTime(&m.RecycleBinChanged)
		case "EntryTemplatesGroup":
			return xr.decodeUUID(&m.EntryTemplatesGroup)
		case "EntryTemplatesGroupChanged":
			return xr.decodeTime(&m.EntryTemplatesGroupChanged)
		case "HistoryMaxItems":
			return xr.decodeInt(&m.HistoryMaxItems)
		case "HistoryMaxSize":
			var v int
			if err := xr.decodeInt(&v); err != nil {
				return err
			}
			m.HistoryMaxSize = int64(v)
			return nil
		case "LastSelectedGroup":
			return xr.decodeUUID(&m.LastSelectedGroup)
		case "LastTopVisibleGroup":
			return xr.decodeUUID(&m.LastTopVisibleGroup)
		case "MemoryProtection":
			return xr.decodeMemoryProtection(child)
		case "CustomIcons":
			return xr.decodeCustomIcons(child)
		case "Binaries":
			return xr.decodeBinaries(child)
		case "CustomData":
			return xr.decodeCustomData(child)
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeMemoryProtection(se xml.StartElement) error {
	m := &xr.db.Meta
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "ProtectTitle":
			return xr.decodeBool(&m.ProtectTitle)
		case "ProtectUserName":
			return xr.decodeBool(&m.ProtectUserName)
		case "ProtectPassword":
			return xr.decodeBool(&m.ProtectPassword)
		case "ProtectURL":
			return xr.decodeBool(&m.ProtectURL)
		case "ProtectNotes":
			return xr.decodeBool(&m.ProtectNotes)
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeCustomIcons(se xml.StartElement) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		if child.Name.Local != "Icon" {
			return skipElement(xr.dec)
		}
		var icon CustomIcon
		err := forEachChild(xr.dec, func(c xml.StartElement) error {
			switch c.Name.Local {
			case "UUID":
				return xr.decodeUUID(&icon.UUID)
			case "Data":
				s, err := readText(xr.dec)
				if err != nil {
					return err
				}
				data, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return newError(XmlMalformed, "custom icon data: invalid base64")
				}
				icon.Data = data
				return nil
			default:
				return skipElement(xr.dec)
			}
		})
		if err != nil {
			return err
		}
		xr.db.Meta.CustomIcons = append(xr.db.Meta.CustomIcons, icon)
		return nil
	})
}

func (xr *xmlReader) decodeBinaries(se xml.StartElement) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		if child.Name.Local != "Binary" {
			return skipElement(xr.dec)
		}
		id := attrValue(child, "ID")
		compressed := attrValue(child, "Compressed") == "True"
		s, err := readText(xr.dec)
		if err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return newError(XmlMalformed, "binary: invalid base64")
		}
		if compressed {
			gr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return wrapError(XmlMalformed, "binary: invalid gzip", err)
			}
			data, err = ioutil.ReadAll(gr)
			if err != nil {
				return wrapError(XmlMalformed, "binary: invalid gzip", err)
			}
		}
		xr.binaries[id] = data
		return nil
	})
}

func (xr *xmlReader) decodeCustomData(se xml.StartElement) error {
	m := &xr.db.Meta
	if m.CustomData == nil {
		m.CustomData = make(map[string]string)
	}
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		if child.Name.Local != "Item" {
			return skipElement(xr.dec)
		}
		var key, value string
		err := forEachChild(xr.dec, func(c xml.StartElement) error {
			switch c.Name.Local {
			case "Key":
				return xr.decodeText(&key)
			case "Value":
				return xr.decodeText(&value)
			default:
				return skipElement(xr.dec)
			}
		})
		if err != nil {
			return err
		}
		m.CustomData[key] = value
		return nil
	})
}

func (xr *xmlReader) decodeRoot(se xml.StartElement) error {
	sawGroup := false
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Group":
			if sawGroup {
				if xr.opts.strict() {
					return newError(XmlMalformed, "multiple root groups")
				}
				Logger.Printf("repair: discarding extra root group")
				return skipElement(xr.dec)
			}
			sawGroup = true
			g, err := xr.decodeGroup(child, nil)
			if err != nil {
				return err
			}
			xr.db.root = g
			return nil
		case "DeletedObjects":
			return xr.decodeDeletedObjects(child)
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeDeletedObjects(se xml.StartElement) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		if child.Name.Local != "DeletedObject" {
			return skipElement(xr.dec)
		}
		var d DeletedObject
		var sawUUID, sawTime bool
		err := forEachChild(xr.dec, func(c xml.StartElement) error {
			switch c.Name.Local {
			case "UUID":
				sawUUID = true
				return xr.decodeUUID(&d.UUID)
			case "DeletionTime":
				sawTime = true
				return xr.decodeTime(&d.DeletionTime)
			default:
				return skipElement(xr.dec)
			}
		})
		if err != nil {
			return err
		}
		if !sawUUID || !sawTime {
			if xr.opts.strict() {
				return newError(XmlMalformed, "malformed DeletedObject")
			}
			Logger.Printf("repair: dropping malformed DeletedObject")
			return nil
		}
		xr.db.DeletedObjects = append(xr.db.DeletedObjects, d)
		return nil
	})
}

func (xr *xmlReader) decodeGroup(se xml.StartElement, parent *Group) (*Group, error) {
	g := &Group{db: xr.db, parent: parent}
	err := forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "UUID":
			return xr.decodeUUID(&g.UUID)
		case "Name":
			return xr.decodeText(&g.Name)
		case "Notes":
			return xr.decodeText(&g.Notes)
		case "IconID":
			var v int
			if err := xr.decodeInt(&v); err != nil {
				return err
			}
			g.Icon = Icon(v)
			return nil
		case "CustomIconUUID":
			return xr.decodeUUID(&g.CustomIconUUID)
		case "Times":
			return xr.decodeTimeInfo(child, &g.TimeInfo)
		case "IsExpanded":
			return xr.decodeBool(&g.IsExpanded)
		case "DefaultAutoTypeSequence":
			return xr.decodeText(&g.DefaultAutoTypeSeq)
		case "EnableAutoType":
			return xr.decodeTriState(&g.EnableAutoType)
		case "EnableSearching":
			return xr.decodeTriState(&g.EnableSearching)
		case "LastTopVisibleEntry":
			return xr.decodeUUID(&g.LastTopVisibleEntry)
		case "Group":
			sub, err := xr.decodeGroup(child, g)
			if err != nil {
				return err
			}
			g.groups = append(g.groups, sub)
			return nil
		case "Entry":
			e, err := xr.decodeEntry(child, g)
			if err != nil {
				return err
			}
			g.entries = append(g.entries, e)
			return nil
		default:
			return skipElement(xr.dec)
		}
	})
	if err != nil {
		return nil, err
	}
	if g.UUID.IsZero() {
		if xr.opts.strict() {
			return nil, newError(XmlMalformed, "group has nil UUID")
		}
		Logger.Printf("repair: regenerating nil group UUID")
		g.UUID = xr.db.newUUID()
	}
	return g, nil
}

func (xr *xmlReader) decodeEntry(se xml.StartElement, parent *Group) (*Entry, error) {
	e := &Entry{db: xr.db, parent: parent, Attributes: make(map[string]Attribute)}
	err := xr.decodeEntryBody(se, e)
	if err != nil {
		return nil, err
	}
	if e.UUID.IsZero() {
		if xr.opts.strict() {
			return nil, newError(XmlMalformed, "entry has nil UUID")
		}
		Logger.Printf("repair: regenerating nil entry UUID")
		e.UUID = xr.db.newUUID()
	}
	for _, h := range e.History {
		if h.UUID != e.UUID {
			if xr.opts.strict() {
				return nil, newError(XmlMalformed, "history entry UUID mismatch")
			}
			Logger.Printf("repair: overwriting mismatched history UUID")
			h.UUID = e.UUID
		}
	}
	return e, nil
}

func (xr *xmlReader) decodeEntryBody(se xml.StartElement, e *Entry) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "UUID":
			return xr.decodeUUID(&e.UUID)
		case "IconID":
			var v int
			if err := xr.decodeInt(&v); err != nil {
				return err
			}
			e.Icon = Icon(v)
			return nil
		case "ForegroundColor":
			return xr.decodeText(&e.ForegroundColor)
		case "BackgroundColor":
			return xr.decodeText(&e.BackgroundColor)
		case "OverrideURL":
			return xr.decodeText(&e.OverrideURL)
		case "Tags":
			return xr.decodeText(&e.Tags)
		case "Times":
			return xr.decodeTimeInfo(child, &e.TimeInfo)
		case "String":
			return xr.decodeString(child, e)
		case "Binary":
			return xr.decodeEntryBinary(child, e)
		case "AutoType":
			return xr.decodeAutoType(child, e)
		case "History":
			return forEachChild(xr.dec, func(c xml.StartElement) error {
				if c.Name.Local != "Entry" {
					return skipElement(xr.dec)
				}
				h, err := xr.decodeEntry(c, nil)
				if err != nil {
					return err
				}
				e.History = append(e.History, h)
				return nil
			})
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeString(se xml.StartElement, e *Entry) error {
	var key, value string
	var protected bool
	err := forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Key":
			return xr.decodeText(&key)
		case "Value":
			protected = attrValue(child, "Protected") == "True"
			s, err := readText(xr.dec)
			if err != nil {
				return err
			}
			if protected {
				raw, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return newError(XmlMalformed, "protected value: invalid base64")
				}
				plain := make([]byte, len(raw))
				xr.stream.XOR(plain, raw)
				value = neutralizeXMLText(string(plain))
			} else {
				value = neutralizeXMLText(s)
			}
			return nil
		default:
			return skipElement(xr.dec)
		}
	})
	if err != nil {
		return err
	}
	e.Attributes[key] = Attribute{Value: value, Protected: protected}
	return nil
}

func (xr *xmlReader) decodeEntryBinary(se xml.StartElement, e *Entry) error {
	var key, ref string
	err := forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Key":
			return xr.decodeText(&key)
		case "Value":
			ref = attrValue(child, "Ref")
			return skipElement(xr.dec)
		default:
			return skipElement(xr.dec)
		}
	})
	if err != nil {
		return err
	}
	if data, ok := xr.binaries[ref]; ok {
		if e.Attachments == nil {
			e.Attachments = make(map[string][]byte)
		}
		e.Attachments[key] = data
	}
	return nil
}

func (xr *xmlReader) decodeAutoType(se xml.StartElement, e *Entry) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Enabled":
			return xr.decodeBool(&e.AutoType.Enabled)
		case "DataTransferObfuscation":
			return xr.decodeInt(&e.AutoType.ObfuscationLevel)
		case "DefaultSequence":
			return xr.decodeText(&e.AutoType.DefaultSequence)
		case "Association":
			var a AutoTypeAssociation
			err := forEachChild(xr.dec, func(c xml.StartElement) error {
				switch c.Name.Local {
				case "Window":
					return xr.decodeText(&a.Window)
				case "KeystrokeSequence":
					return xr.decodeText(&a.Sequence)
				default:
					return skipElement(xr.dec)
				}
			})
			if err != nil {
				return err
			}
			e.AutoType.Associations = append(e.AutoType.Associations, a)
			return nil
		default:
			return skipElement(xr.dec)
		}
	})
}

func (xr *xmlReader) decodeTimeInfo(se xml.StartElement, t *TimeInfo) error {
	return forEachChild(xr.dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "CreationTime":
			return xr.decodeTime(&t.CreationTime)
		case "LastModificationTime":
			return xr.decodeTime(&t.LastModificationTime)
		case "LastAccessTime":
			return xr.decodeTime(&t.LastAccessTime)
		case "ExpiryTime":
			return xr.decodeTime(&t.ExpiryTime)
		case "LocationChanged":
			return xr.decodeTime(&t.LocationChanged)
		case "Expires":
			return xr.decodeBool(&t.Expires)
		case "UsageCount":
			return xr.decodeInt(&t.UsageCount)
		default:
			return skipElement(xr.dec)
		}
	})
}

// Scalar decode helpers. Each reads one leaf element's text and parses it.

func (xr *xmlReader) decodeText(dst *string) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	*dst = neutralizeXMLText(s)
	return nil
}

func (xr *xmlReader) decodeBool(dst *bool) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	*dst = s == "True"
	return nil
}

func (xr *xmlReader) decodeTriState(dst *Inheritable) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	switch s {
	case "True":
		*dst = Enable
	case "False":
		*dst = Disable
	default:
		*dst = Inherit
	}
	return nil
}

func (xr *xmlReader) decodeInt(dst *int) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	if s == "" {
		*dst = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return newError(XmlMalformed, "invalid integer")
	}
	*dst = v
	return nil
}

func (xr *xmlReader) decodeUUID(dst *uuids.UUID) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	u, err := uuids.ParseBase64(s)
	if err != nil {
		return newError(XmlMalformed, "invalid UUID")
	}
	*dst = u
	return nil
}

func (xr *xmlReader) decodeTime(dst *time.Time) error {
	s, err := readText(xr.dec)
	if err != nil {
		return err
	}
	if s == "" {
		*dst = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return newError(XmlMalformed, "invalid timestamp")
	}
	*dst = t.UTC()
	return nil
}

// forEachChild invokes fn for every StartElement child of the element
// currently open, until the matching EndElement. fn is responsible for
// consuming its child's entire subtree (via readText, skipElement, or a
// recursive decode).
func forEachChild(dec *xml.Decoder, fn func(xml.StartElement) error) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return wrapTokenError(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// readText returns the concatenated character data of the element
// currently open, skipping (rather than erroring on) any unexpected
// nested elements.
func readText(dec *xml.Decoder) (string, error) {
	var buf bytes.Buffer
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", wrapTokenError(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.StartElement:
			if err := skipElement(dec); err != nil {
				return "", err
			}
		case xml.EndElement:
			return buf.String(), nil
		}
	}
}

// skipElement consumes tokens through the end of the subtree started by
// the StartElement just returned by dec.Token.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return wrapTokenError(err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// wrapTokenError classifies an error surfaced while pulling XML tokens.
// A hashed-block framing failure underneath the XML layer is reported
// as StreamCorrupted rather than XmlMalformed, matching the error
// taxonomy's layer-accurate kinds; everything else (XML syntax errors,
// plain I/O errors from a short read) is XmlMalformed.
func wrapTokenError(err error) error {
	switch err {
	case hashedblock.ErrBlockHash, hashedblock.ErrBlockIndex, hashedblock.ErrShortBlock:
		return wrapError(StreamCorrupted, "corrupt block stream", err)
	default:
		return wrapError(XmlMalformed, "read XML", err)
	}
}

func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// neutralizeXMLText replaces any code point outside the XML 1.0 allowed
// character set, and any unpaired UTF-16 surrogate, with the empty
// string. Valid surrogate pairs (which Go's UTF-8 decoding already
// combines into a single rune) are preserved. In a Go string an unpaired
// surrogate can only appear as invalid UTF-8; every invalid UTF-8 byte is
// dropped.
func neutralizeXMLText(s string) string {
	if isValidXMLText(s) {
		return s
	}
	var buf bytes.Buffer
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if !(r == utf8.RuneError && size == 1) && isValidXMLChar(r) {
			buf.WriteRune(r)
		}
		s = s[size:]
	}
	return buf.String()
}

func isValidXMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !isValidXMLChar(r) {
			return false
		}
	}
	return true
}

func isValidXMLChar(r rune) bool {
	switch {
	case r == 0x9 || r == 0xA || r == 0xD:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	default:
		return false
	}
}

// xmlWriter serializes a Database to a KeePassFile document, encrypting
// protected attributes with stream in the same document order the
// reader will later decrypt them in.
type xmlWriter struct {
	enc    *xml.Encoder
	stream *innerstream.Stream
	db     *Database
	raw    []byte // retained header bytes, hashed into Meta/HeaderHash
}

func encodeDatabase(w io.Writer, db *Database, stream *innerstream.Stream, rawHeader []byte) error {
	xw := &xmlWriter{enc: xml.NewEncoder(w), stream: stream, db: db, raw: rawHeader}
	if err := xw.writeStart("KeePassFile"); err != nil {
		return err
	}
	if err := xw.writeMeta(); err != nil {
		return err
	}
	if err := xw.writeRoot(); err != nil {
		return err
	}
	if err := xw.writeEnd("KeePassFile"); err != nil {
		return err
	}
	return xw.enc.Flush()
}

func (xw *xmlWriter) writeStart(name string, attrs ...xml.Attr) error {
	return xw.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (xw *xmlWriter) writeEnd(name string) error {
	return xw.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (xw *xmlWriter) writeElem(name, text string) error {
	if err := xw.writeStart(name); err != nil {
		return err
	}
	if text != "" {
		if err := xw.enc.EncodeToken(xml.CharData(neutralizeXMLText(text))); err != nil {
			return err
		}
	}
	return xw.writeEnd(name)
}

func (xw *xmlWriter) writeBool(name string, b bool) error {
	return xw.writeElem(name, boolString(b))
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func triStateString(v Inheritable) string {
	switch v {
	case Enable:
		return "True"
	case Disable:
		return "False"
	default:
		return "null"
	}
}

func (xw *xmlWriter) writeTriState(name string, v Inheritable) error {
	return xw.writeElem(name, triStateString(v))
}

func (xw *xmlWriter) writeInt(name string, v int) error {
	return xw.writeElem(name, strconv.Itoa(v))
}

func (xw *xmlWriter) writeUUID(name string, u uuids.UUID) error {
	return xw.writeElem(name, u.Base64())
}

func (xw *xmlWriter) writeTime(name string, t time.Time) error {
	return xw.writeElem(name, t.UTC().Format(time.RFC3339))
}

func (xw *xmlWriter) writeMeta() error {
	m := &xw.db.Meta
	if err := xw.writeStart("Meta"); err != nil {
		return err
	}
	if err := xw.writeElem("Generator", m.Generator); err != nil {
		return err
	}
	hash := headerHash(xw.raw)
	if err := xw.writeElem("HeaderHash", base64.StdEncoding.EncodeToString(hash[:])); err != nil {
		return err
	}
	if err := xw.writeElem("DatabaseName", m.Name); err != nil {
		return err
	}
	if err := xw.writeTime("DatabaseNameChanged", m.NameChanged); err != nil {
		return err
	}
	if err := xw.writeElem("DatabaseDescription", m.Description); err != nil {
		return err
	}
	if err := xw.writeTime("DatabaseDescriptionChanged", m.DescriptionChanged); err != nil {
		return err
	}
	if err := xw.writeElem("DefaultUserName", m.DefaultUsername); err != nil {
		return err
	}
	if err := xw.writeTime("DefaultUserNameChanged", m.DefaultUsernameChanged); err != nil {
		return err
	}
	if err := xw.writeElem("Color", m.Color); err != nil {
		return err
	}
	if err := xw.writeTime("MasterKeyChanged", m.MasterKeyChanged); err != nil {
		return err
	}
	if err := xw.writeInt("MasterKeyChangeRec", m.MasterKeyChangeRec); err != nil {
		return err
	}
	if err := xw.writeInt("MasterKeyChangeForce", m.MasterKeyChangeForce); err != nil {
		return err
	}
	if err := xw.writeStart("MemoryProtection"); err != nil {
		return err
	}
	if err := xw.writeBool("ProtectTitle", m.ProtectTitle); err != nil {
		return err
	}
	if err := xw.writeBool("ProtectUserName", m.ProtectUserName); err != nil {
		return err
	}
	if err := xw.writeBool("ProtectPassword", m.ProtectPassword); err != nil {
		return err
	}
	if err := xw.writeBool("ProtectURL", m.ProtectURL); err != nil {
		return err
	}
	if err := xw.writeBool("ProtectNotes", m.ProtectNotes); err != nil {
		return err
	}
	if err := xw.writeEnd("MemoryProtection"); err != nil {
		return err
	}
	if err := xw.writeCustomIcons(); err != nil {
		return err
	}
	if err := xw.writeBool("RecycleBinEnabled", m.RecycleBinEnabled); err != nil {
		return err
	}
	if err := xw.writeUUID("RecycleBinUUID", m.RecycleBinUUID); err != nil {
		return err
	}
	if err := xw.writeTime("RecycleBinChanged", m.RecycleBinChanged); err != nil {
		return err
	}
	if err := xw.writeUUID("EntryTemplatesGroup", m.EntryTemplatesGroup); err != nil {
		return err
	}
	if err := xw.writeTime("EntryTemplatesGroupChanged", m.EntryTemplatesGroupChanged); err != nil {
		return err
	}
	if err := xw.writeInt("HistoryMaxItems", m.HistoryMaxItems); err != nil {
		return err
	}
	if err := xw.writeInt("HistoryMaxSize", int(m.HistoryMaxSize)); err != nil {
		return err
	}
	if err := xw.writeUUID("LastSelectedGroup", m.LastSelectedGroup); err != nil {
		return err
	}
	if err := xw.writeUUID("LastTopVisibleGroup", m.LastTopVisibleGroup); err != nil {
		return err
	}
	if err := xw.writeCustomData(); err != nil {
		return err
	}
	if err := xw.writeBinaries(); err != nil {
		return err
	}
	return xw.writeEnd("Meta")
}

// writeBinaries emits one Meta/Binaries entry per distinct attachment
// name found anywhere in the tree, matching the ID each Entry/Binary's
// Value/@Ref points at.
func (xw *xmlWriter) writeBinaries() error {
	all := make(map[string][]byte)
	collectAttachments(xw.db.root, all)
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := xw.writeStart("Binaries"); err != nil {
		return err
	}
	for _, name := range names {
		if err := xw.writeStart("Binary", xml.Attr{Name: xml.Name{Local: "ID"}, Value: name}); err != nil {
			return err
		}
		if err := xw.enc.EncodeToken(xml.CharData(base64.StdEncoding.EncodeToString(all[name]))); err != nil {
			return err
		}
		if err := xw.writeEnd("Binary"); err != nil {
			return err
		}
	}
	return xw.writeEnd("Binaries")
}

func collectAttachments(g *Group, into map[string][]byte) {
	if g == nil {
		return
	}
	for _, e := range g.entries {
		for name, data := range e.Attachments {
			into[name] = data
		}
		for _, h := range e.History {
			for name, data := range h.Attachments {
				into[name] = data
			}
		}
	}
	for _, sub := range g.groups {
		collectAttachments(sub, into)
	}
}

func (xw *xmlWriter) writeCustomIcons() error {
	if err := xw.writeStart("CustomIcons"); err != nil {
		return err
	}
	for _, icon := range xw.db.Meta.CustomIcons {
		if err := xw.writeStart("Icon"); err != nil {
			return err
		}
		if err := xw.writeUUID("UUID", icon.UUID); err != nil {
			return err
		}
		if err := xw.writeElem("Data", base64.StdEncoding.EncodeToString(icon.Data)); err != nil {
			return err
		}
		if err := xw.writeEnd("Icon"); err != nil {
			return err
		}
	}
	return xw.writeEnd("CustomIcons")
}

func (xw *xmlWriter) writeCustomData() error {
	if err := xw.writeStart("CustomData"); err != nil {
		return err
	}
	keys := make([]string, 0, len(xw.db.Meta.CustomData))
	for k := range xw.db.Meta.CustomData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := xw.writeStart("Item"); err != nil {
			return err
		}
		if err := xw.writeElem("Key", k); err != nil {
			return err
		}
		if err := xw.writeElem("Value", xw.db.Meta.CustomData[k]); err != nil {
			return err
		}
		if err := xw.writeEnd("Item"); err != nil {
			return err
		}
	}
	return xw.writeEnd("CustomData")
}

func (xw *xmlWriter) writeRoot() error {
	if err := xw.writeStart("Root"); err != nil {
		return err
	}
	if err := xw.writeGroup(xw.db.root); err != nil {
		return err
	}
	if err := xw.writeDeletedObjects(); err != nil {
		return err
	}
	return xw.writeEnd("Root")
}

func (xw *xmlWriter) writeDeletedObjects() error {
	if err := xw.writeStart("DeletedObjects"); err != nil {
		return err
	}
	for _, d := range xw.db.DeletedObjects {
		if err := xw.writeStart("DeletedObject"); err != nil {
			return err
		}
		if err := xw.writeUUID("UUID", d.UUID); err != nil {
			return err
		}
		if err := xw.writeTime("DeletionTime", d.DeletionTime); err != nil {
			return err
		}
		if err := xw.writeEnd("DeletedObject"); err != nil {
			return err
		}
	}
	return xw.writeEnd("DeletedObjects")
}

func (xw *xmlWriter) writeGroup(g *Group) error {
	if err := xw.writeStart("Group"); err != nil {
		return err
	}
	if err := xw.writeUUID("UUID", g.UUID); err != nil {
		return err
	}
	if err := xw.writeElem("Name", g.Name); err != nil {
		return err
	}
	if err := xw.writeElem("Notes", g.Notes); err != nil {
		return err
	}
	if err := xw.writeInt("IconID", int(g.Icon)); err != nil {
		return err
	}
	if err := xw.writeUUID("CustomIconUUID", g.CustomIconUUID); err != nil {
		return err
	}
	if err := xw.writeTimeInfo(&g.TimeInfo); err != nil {
		return err
	}
	if err := xw.writeBool("IsExpanded", g.IsExpanded); err != nil {
		return err
	}
	if err := xw.writeElem("DefaultAutoTypeSequence", g.DefaultAutoTypeSeq); err != nil {
		return err
	}
	if err := xw.writeTriState("EnableAutoType", g.EnableAutoType); err != nil {
		return err
	}
	if err := xw.writeTriState("EnableSearching", g.EnableSearching); err != nil {
		return err
	}
	if err := xw.writeUUID("LastTopVisibleEntry", g.LastTopVisibleEntry); err != nil {
		return err
	}
	for _, sub := range g.groups {
		if err := xw.writeGroup(sub); err != nil {
			return err
		}
	}
	for _, e := range g.entries {
		if err := xw.writeEntry(e, false); err != nil {
			return err
		}
	}
	return xw.writeEnd("Group")
}

var wellKnownAttrs = []string{"Title", "UserName", "Password", "URL", "Notes"}

func (xw *xmlWriter) writeEntry(e *Entry, isHistory bool) error {
	if err := xw.writeStart("Entry"); err != nil {
		return err
	}
	if err := xw.writeUUID("UUID", e.UUID); err != nil {
		return err
	}
	if err := xw.writeInt("IconID", int(e.Icon)); err != nil {
		return err
	}
	if err := xw.writeElem("ForegroundColor", e.ForegroundColor); err != nil {
		return err
	}
	if err := xw.writeElem("BackgroundColor", e.BackgroundColor); err != nil {
		return err
	}
	if err := xw.writeElem("OverrideURL", e.OverrideURL); err != nil {
		return err
	}
	if err := xw.writeElem("Tags", e.Tags); err != nil {
		return err
	}
	if err := xw.writeTimeInfo(&e.TimeInfo); err != nil {
		return err
	}

	seen := make(map[string]bool, len(wellKnownAttrs))
	for _, name := range wellKnownAttrs {
		seen[name] = true
		a, ok := e.Attributes[name]
		if !ok {
			a = Attribute{}
		}
		if err := xw.writeString(name, a); err != nil {
			return err
		}
	}
	extra := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if err := xw.writeString(name, e.Attributes[name]); err != nil {
			return err
		}
	}

	attachNames := make([]string, 0, len(e.Attachments))
	for name := range e.Attachments {
		attachNames = append(attachNames, name)
	}
	sort.Strings(attachNames)
	for _, name := range attachNames {
		if err := xw.writeEntryBinary(name, e.Attachments[name]); err != nil {
			return err
		}
	}

	if err := xw.writeAutoType(&e.AutoType); err != nil {
		return err
	}

	if !isHistory && len(e.History) > 0 {
		if err := xw.writeStart("History"); err != nil {
			return err
		}
		for _, h := range e.History {
			if err := xw.writeEntry(h, true); err != nil {
				return err
			}
		}
		if err := xw.writeEnd("History"); err != nil {
			return err
		}
	}
	return xw.writeEnd("Entry")
}

func (xw *xmlWriter) writeString(name string, a Attribute) error {
	if err := xw.writeStart("String"); err != nil {
		return err
	}
	if err := xw.writeElem("Key", name); err != nil {
		return err
	}
	if a.Protected {
		plain := []byte(neutralizeXMLText(a.Value))
		cipher := make([]byte, len(plain))
		xw.stream.XOR(cipher, plain)
		if err := xw.writeStart("Value", xml.Attr{Name: xml.Name{Local: "Protected"}, Value: "True"}); err != nil {
			return err
		}
		if len(cipher) > 0 {
			if err := xw.enc.EncodeToken(xml.CharData(base64.StdEncoding.EncodeToString(cipher))); err != nil {
				return err
			}
		}
		if err := xw.writeEnd("Value"); err != nil {
			return err
		}
	} else {
		if err := xw.writeStart("Value"); err != nil {
			return err
		}
		if a.Value != "" {
			if err := xw.enc.EncodeToken(xml.CharData(neutralizeXMLText(a.Value))); err != nil {
				return err
			}
		}
		if err := xw.writeEnd("Value"); err != nil {
			return err
		}
	}
	return xw.writeEnd("String")
}

func (xw *xmlWriter) writeEntryBinary(name string, data []byte) error {
	// The attachment is written as a Ref to the Meta/Binaries item that
	// writeBinaries emits with the attachment's name as its ID; the
	// bytes themselves are not embedded here.
	if err := xw.writeStart("Binary"); err != nil {
		return err
	}
	if err := xw.writeElem("Key", name); err != nil {
		return err
	}
	if err := xw.writeStart("Value", xml.Attr{Name: xml.Name{Local: "Ref"}, Value: name}); err != nil {
		return err
	}
	if err := xw.writeEnd("Value"); err != nil {
		return err
	}
	return xw.writeEnd("Binary")
}

func (xw *xmlWriter) writeAutoType(a *AutoType) error {
	if err := xw.writeStart("AutoType"); err != nil {
		return err
	}
	if err := xw.writeBool("Enabled", a.Enabled); err != nil {
		return err
	}
	if err := xw.writeInt("DataTransferObfuscation", a.ObfuscationLevel); err != nil {
		return err
	}
	if err := xw.writeElem("DefaultSequence", a.DefaultSequence); err != nil {
		return err
	}
	for _, assoc := range a.Associations {
		if err := xw.writeStart("Association"); err != nil {
			return err
		}
		if err := xw.writeElem("Window", assoc.Window); err != nil {
			return err
		}
		if err := xw.writeElem("KeystrokeSequence", assoc.Sequence); err != nil {
			return err
		}
		if err := xw.writeEnd("Association"); err != nil {
			return err
		}
	}
	return xw.writeEnd("AutoType")
}

func (xw *xmlWriter) writeTimeInfo(t *TimeInfo) error {
	if err := xw.writeStart("Times"); err != nil {
		return err
	}
	if err := xw.writeTime("CreationTime", t.CreationTime); err != nil {
		return err
	}
	if err := xw.writeTime("LastModificationTime", t.LastModificationTime); err != nil {
		return err
	}
	if err := xw.writeTime("LastAccessTime", t.LastAccessTime); err != nil {
		return err
	}
	if err := xw.writeTime("ExpiryTime", t.ExpiryTime); err != nil {
		return err
	}
	if err := xw.writeBool("Expires", t.Expires); err != nil {
		return err
	}
	if err := xw.writeInt("UsageCount", t.UsageCount); err != nil {
		return err
	}
	if err := xw.writeTime("LocationChanged", t.LocationChanged); err != nil {
		return err
	}
	return xw.writeEnd("Times")
}
