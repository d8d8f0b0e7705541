// Package patch loads the per-build PatchImage bundle that the emulator
// shim re-executes decoders from (spec.md §4.4).
package patch

import (
	"archive/zip"
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// baseAddr is the absolute virtual address at which the original process's
// sections were captured; fixed across every patch build (spec.md §3).
const baseAddr = 0x7ff76afd0000

// Section is one raw code/data region dumped from the original process.
type Section struct {
	RVA  uint64
	Size uint64
	Raw  []byte
}

// WardSpawnDecoder locates and describes the ward-spawn packet decryptor.
type WardSpawnDecoder struct {
	PacketID uint16

	EntryRVA uint64
	ExitRVA  uint64

	IDOffset      uint64
	OwnerIDOffset uint64

	NamePtrOffset uint64
	NameLenOffset uint64

	XOffset     uint64
	XWriteIndex uint32

	YOffset     uint64
	YWriteIndex uint32
}

// MovDecoder locates and describes the movement packet decryptor.
type MovDecoder struct {
	PacketID uint16

	EntryRVA uint64
	ExitRVA  uint64

	PayloadPtrOffset  uint64
	PayloadSizeOffset uint64
}

// Image is the immutable, shared-across-instances bundle of sections and
// decoder descriptors for one specific game build (spec.md §3 PatchImage).
type Image struct {
	Alloc1RVA uint64
	Alloc2RVA uint64
	SkipRVA   uint64

	WardSpawn WardSpawnDecoder
	Mov       MovDecoder

	PlayerIDStart uint32

	Text  Section
	Data  Section
	Rdata Section

	BaseAddr uint64
}

// RVAToAddress reconstructs the original absolute address of a relative
// virtual address captured in this image.
func (img *Image) RVAToAddress(rva uint64) uint64 {
	return img.BaseAddr + rva
}

type resultJSON struct {
	Alloc1RVA string `json:"alloc1_rva"`
	Alloc2RVA string `json:"alloc2_rva"`
	SkipRVA   string `json:"skip_rva"`

	PlayerIDStart string `json:"player_id_start"`

	WardSpawnDecoder struct {
		PacketID      uint16 `json:"packet_id"`
		EntryRVA      string `json:"entry_rva"`
		ExitRVA       string `json:"exit_rva"`
		IDOffset      string `json:"id_offset"`
		OwnerIDOffset string `json:"owner_id_offset"`
		NamePtrOffset string `json:"name_ptr_offset"`
		NameLenOffset string `json:"name_len_offset"`
		XOffset       string `json:"x_offset"`
		XWriteIndex   uint32 `json:"x_write_index"`
		YOffset       string `json:"y_offset"`
		YWriteIndex   uint32 `json:"y_write_index"`
	} `json:"ward_spawn_decoder"`

	MovDecoder struct {
		PacketID          uint16 `json:"packet_id"`
		EntryRVA          string `json:"entry_rva"`
		ExitRVA           string `json:"exit_rva"`
		PayloadPtrOffset  string `json:"payload_ptr_offset"`
		PayloadSizeOffset string `json:"payload_size_offset"`
	} `json:"mov_decoder"`

	Text  sectionJSON `json:"text"`
	Data  sectionJSON `json:"data"`
	Rdata sectionJSON `json:"rdata"`
}

type sectionJSON struct {
	RVA  string `json:"rva"`
	Size uint64 `json:"size"`
}

// Load opens a patch bundle (a zip archive of result.json plus three raw
// section dumps) and builds the Image it describes (spec.md §4.4).
func Load(path string) (*Image, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, newConfigError("open patch archive: %v", err)
	}
	defer zr.Close()

	rawJSON, err := readZipEntry(&zr.Reader, "result.json")
	if err != nil {
		return nil, newConfigError("read result.json: %v", err)
	}

	var doc resultJSON
	if err := json.Unmarshal(rawJSON, &doc); err != nil {
		return nil, newConfigError("parse result.json: %v", err)
	}

	textRaw, err := readZipEntry(&zr.Reader, "text.bin")
	if err != nil {
		return nil, newConfigError("read text.bin: %v", err)
	}
	dataRaw, err := readZipEntry(&zr.Reader, "data.bin")
	if err != nil {
		return nil, newConfigError("read data.bin: %v", err)
	}
	rdataRaw, err := readZipEntry(&zr.Reader, "rdata.bin")
	if err != nil {
		return nil, newConfigError("read rdata.bin: %v", err)
	}

	var perr error
	hex := func(s string) uint64 {
		v, err := parseHexU64(s)
		if err != nil && perr == nil {
			perr = newConfigError("invalid hex field %q: %v", s, err)
		}
		return v
	}
	hex32 := func(s string) uint32 {
		return uint32(hex(s))
	}

	img := &Image{
		Alloc1RVA: hex(doc.Alloc1RVA),
		Alloc2RVA: hex(doc.Alloc2RVA),
		SkipRVA:   hex(doc.SkipRVA),

		PlayerIDStart: hex32(doc.PlayerIDStart),

		WardSpawn: WardSpawnDecoder{
			PacketID:      doc.WardSpawnDecoder.PacketID,
			EntryRVA:      hex(doc.WardSpawnDecoder.EntryRVA),
			ExitRVA:       hex(doc.WardSpawnDecoder.ExitRVA),
			IDOffset:      hex(doc.WardSpawnDecoder.IDOffset),
			OwnerIDOffset: hex(doc.WardSpawnDecoder.OwnerIDOffset),
			NamePtrOffset: hex(doc.WardSpawnDecoder.NamePtrOffset),
			NameLenOffset: hex(doc.WardSpawnDecoder.NameLenOffset),
			XOffset:       hex(doc.WardSpawnDecoder.XOffset),
			XWriteIndex:   doc.WardSpawnDecoder.XWriteIndex,
			YOffset:       hex(doc.WardSpawnDecoder.YOffset),
			YWriteIndex:   doc.WardSpawnDecoder.YWriteIndex,
		},
		Mov: MovDecoder{
			PacketID:          doc.MovDecoder.PacketID,
			EntryRVA:          hex(doc.MovDecoder.EntryRVA),
			ExitRVA:           hex(doc.MovDecoder.ExitRVA),
			PayloadPtrOffset:  hex(doc.MovDecoder.PayloadPtrOffset),
			PayloadSizeOffset: hex(doc.MovDecoder.PayloadSizeOffset),
		},

		Text:  Section{RVA: hex(doc.Text.RVA), Size: doc.Text.Size, Raw: textRaw},
		Data:  Section{RVA: hex(doc.Data.RVA), Size: doc.Data.Size, Raw: dataRaw},
		Rdata: Section{RVA: hex(doc.Rdata.RVA), Size: doc.Rdata.Size, Raw: rdataRaw},

		BaseAddr: baseAddr,
	}
	if perr != nil {
		return nil, perr
	}

	if uint64(len(img.Text.Raw)) != img.Text.Size {
		return nil, newConfigError("text section raw length %d != declared size %d", len(img.Text.Raw), img.Text.Size)
	}
	if uint64(len(img.Data.Raw)) != img.Data.Size {
		return nil, newConfigError("data section raw length %d != declared size %d", len(img.Data.Raw), img.Data.Size)
	}
	if uint64(len(img.Rdata.Raw)) != img.Rdata.Size {
		return nil, newConfigError("rdata section raw length %d != declared size %d", len(img.Rdata.Raw), img.Rdata.Size)
	}
	if img.WardSpawn.EntryRVA < img.Text.RVA || img.WardSpawn.EntryRVA >= img.Text.RVA+img.Text.Size {
		return nil, newConfigError("ward_spawn_decoder.entry_rva 0x%x outside .text range", img.WardSpawn.EntryRVA)
	}
	if img.Mov.EntryRVA < img.Text.RVA || img.Mov.EntryRVA >= img.Text.RVA+img.Text.Size {
		return nil, newConfigError("mov_decoder.entry_rva 0x%x outside .text range", img.Mov.EntryRVA)
	}

	return img, nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func parseHexU64(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}
