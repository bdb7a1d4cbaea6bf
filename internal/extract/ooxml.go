// Copyright (c) 2026 John Earle
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

package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// maxXMLPartSize bounds a single decompressed XML part.
const maxXMLPartSize = 128 << 20

// coreProperties is docProps/core.xml, shared by every OOXML format.
type coreProperties struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	Keywords       string `xml:"keywords"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
}

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxXMLPartSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// readCoreProperties returns the embedded document properties, or zero
// values when the part is missing or malformed.
func readCoreProperties(zr *zip.Reader) coreProperties {
	var props coreProperties
	data, err := readZipFile(zr, "docProps/core.xml")
	if err != nil {
		return props
	}
	_ = xml.Unmarshal(data, &props)
	props.Title = strings.TrimSpace(props.Title)
	props.Creator = strings.TrimSpace(props.Creator)
	props.Modified = strings.TrimSpace(props.Modified)
	return props
}

func (p coreProperties) metadata(props map[string]any) Metadata {
	if p.Subject != "" {
		props["subject"] = p.Subject
	}
	if p.Keywords != "" {
		props["keywords"] = p.Keywords
	}
	if p.LastModifiedBy != "" {
		props["last_modified_by"] = p.LastModifiedBy
	}
	if p.Created != "" {
		props["created"] = p.Created
	}
	return Metadata{
		Title:        p.Title,
		Author:       p.Creator,
		LastModified: p.Modified,
		Properties:   props,
	}
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
