package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/storage/memstore"
)

// checkRawCID is a CheckFunc for bundles of raw blobs, where the CID is
// the sum of the stored bytes.
func checkRawCID(id cid.Cid, data []byte) error {
	sum, err := cidutil.Sum(data)
	if err != nil {
		return err
	}
	if !sum.Equals(id) {
		return fmt.Errorf("cid mismatch for %s", id)
	}
	return nil
}

func seedStore(t *testing.T, blobs ...[]byte) (*memstore.Store, []cid.Cid) {
	t.Helper()
	s := memstore.New()
	ids := make([]cid.Cid, 0, len(blobs))
	for _, b := range blobs {
		id, err := cidutil.Sum(b)
		if err != nil {
			t.Fatalf("cidutil.Sum: %v", err)
		}
		if err := s.Put(id, b); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, id)
	}
	return s, ids
}

func TestExportImportRoundTrip(t *testing.T) {
	src, ids := seedStore(t,
		[]byte("alpha"),
		[]byte("beta"),
		[]byte("gamma"),
	)

	var buf bytes.Buffer
	if err := Export(&buf, src, ids, ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := memstore.New()
	if err := ImportWithOptions(&buf, dst, ImportOptions{Check: checkRawCID}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	for _, id := range ids {
		got, err := dst.Get(id)
		if err != nil {
			t.Fatalf("imported blob %s missing: %v", id, err)
		}
		want, _ := src.Get(id)
		if !bytes.Equal(got, want) {
			t.Fatalf("blob %s changed across round trip", id)
		}
	}
	if dst.Len() != len(ids) {
		t.Fatalf("imported %d blobs, want %d", dst.Len(), len(ids))
	}
}

func TestExportDeterministic(t *testing.T) {
	src, ids := seedStore(t, []byte("one"), []byte("two"), []byte("three"))

	// Supply in a different order; export must not care.
	reversed := make([]cid.Cid, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}

	var a, b bytes.Buffer
	if err := Export(&a, src, ids, ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export(1): %v", err)
	}
	if err := Export(&b, src, reversed, ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export(2): %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("bundle bytes differ across input orderings")
	}
}

func TestExportLabelsInIndex(t *testing.T) {
	src, ids := seedStore(t, []byte("tip blob"))

	var buf bytes.Buffer
	opts := ExportOptions{
		IncludeIndex: true,
		Labels:       map[string]cid.Cid{"tip/solar.coop": ids[0]},
	}
	if err := Export(&buf, src, ids, opts); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var indexBody []byte
	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		if h.Name == "index.json" {
			indexBody, err = io.ReadAll(tr)
			if err != nil {
				t.Fatalf("read index.json: %v", err)
			}
		}
	}
	if indexBody == nil {
		t.Fatalf("index.json missing from bundle")
	}
	if !strings.Contains(string(indexBody), `"tip/solar.coop"`) {
		t.Fatalf("index.json missing label: %s", indexBody)
	}
	if !strings.Contains(string(indexBody), ids[0].String()) {
		t.Fatalf("index.json missing labeled CID")
	}
}

func TestImportRejectsCorruptBlock(t *testing.T) {
	src, ids := seedStore(t, []byte("honest bytes"))

	var buf bytes.Buffer
	if err := Export(&buf, src, ids, ExportOptions{}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Flip a payload byte inside the archive.
	raw := buf.Bytes()
	i := bytes.Index(raw, []byte("honest bytes"))
	if i < 0 {
		t.Fatalf("payload not found in archive")
	}
	raw[i] ^= 0x01

	dst := memstore.New()
	err := ImportWithOptions(bytes.NewReader(raw), dst, ImportOptions{Check: checkRawCID})
	if err == nil {
		t.Fatalf("import of corrupt block should fail")
	}
	if dst.Len() != 0 {
		t.Fatalf("corrupt block was stored")
	}
}

func TestImportUnknownEntry(t *testing.T) {
	build := func(t *testing.T) []byte {
		t.Helper()
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		body := []byte("stray")
		hdr := &tar.Header{Name: "notes/readme.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := tw.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		return buf.Bytes()
	}

	raw := build(t)
	if err := Import(bytes.NewReader(raw), memstore.New()); err == nil {
		t.Fatalf("unknown entry should fail closed by default")
	}
	err := ImportWithOptions(bytes.NewReader(raw), memstore.New(), ImportOptions{IgnoreUnknown: true})
	if err != nil {
		t.Fatalf("IgnoreUnknown should skip stray entries: %v", err)
	}
}

func TestImportRejectsPathEscape(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("evil")
	hdr := &tar.Header{Name: "blocks/../../etc/passwd", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := Import(bytes.NewReader(buf.Bytes()), memstore.New()); err == nil {
		t.Fatalf("path traversal entry should be rejected")
	}
}
