// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is one page served in access-point mode
type Page struct {
	Path string `cbor:"1,keyasint" json:"path"`
	HTML string `cbor:"2,keyasint" json:"html"`
}

// PageBundle is a set of pages loaded onto the module by serve
type PageBundle struct {
	Version string `cbor:"1,keyasint" json:"version"`
	Pages   []Page `cbor:"2,keyasint" json:"pages"`
}

// Validate checks that every page fits the module's page store.
func (b *PageBundle) Validate() error {
	store := wifi.NewPageStore(nil)
	for _, p := range b.Pages {
		if err := store.SetPage(p.Path, p.HTML); err != nil {
			return err
		}
	}
	return nil
}

// pagePath maps a file name in a page directory to the path it is served at
func pagePath(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch base {
	case "index":
		return "/"
	case "default":
		return wifi.DefaultPath
	}
	return "/" + base
}

// ReadPageDir builds a bundle from the .html files in dir. index.html is
// served at "/" and default.html replaces the not-found page.
func ReadPageDir(dir string) (*PageBundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	b := &PageBundle{Version: wifi.Version}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".html") {
			continue
		}
		html, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		b.Pages = append(b.Pages, Page{Path: pagePath(e.Name()), HTML: string(html)})
	}
	sort.Slice(b.Pages, func(i, j int) bool { return b.Pages[i].Path < b.Pages[j].Path })

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadBundle reads a .cbor or .json bundle file.
func LoadBundle(path string) (*PageBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	b := &PageBundle{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		err = cbor.Unmarshal(data, b)
	case ".json":
		err = json.Unmarshal(data, b)
	default:
		return nil, fmt.Errorf("unsupported bundle format: %s (use .cbor or .json)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadPages reads a page directory or a bundle file.
func LoadPages(path string) (*PageBundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return ReadPageDir(path)
	}
	return LoadBundle(path)
}

// WriteBundle encodes b by the extension of path.
func WriteBundle(path string, b *PageBundle) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		data, err = cbor.Marshal(b)
	case ".json":
		data, err = json.MarshalIndent(b, "", "  ")
	default:
		return fmt.Errorf("unsupported bundle format: %s (use .cbor or .json)", path)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

//////////////////////////////////////////////////////////////
// pages command
//////////////////////////////////////////////////////////////

var pagesOutput string

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "Build and inspect page bundles for serve",
}

var pagesPackCmd = &cobra.Command{
	Use:   "pack <dir>",
	Short: "Pack a directory of .html files into a bundle",
	Long: `Pack the .html files in a directory into a .cbor or .json bundle.

index.html is served at "/", default.html replaces the page served for
unknown paths, and every other file is served at "/<name>". Pages are
checked against the module's page store limits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := ReadPageDir(args[0])
		if err != nil {
			return err
		}
		if err := WriteBundle(pagesOutput, b); err != nil {
			return err
		}
		fmt.Printf("Packed %d pages into %s\n", len(b.Pages), pagesOutput)
		return nil
	},
}

var pagesListCmd = &cobra.Command{
	Use:   "list <dir|bundle>",
	Short: "List the pages in a directory or bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := LoadPages(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%-*s  %s\n", wifi.PagePathSize/2, "PATH", "BYTES")
		for _, p := range b.Pages {
			fmt.Printf("%-*s  %d\n", wifi.PagePathSize/2, p.Path, len(p.HTML))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pagesCmd)
	pagesCmd.AddCommand(pagesPackCmd, pagesListCmd)
	pagesPackCmd.Flags().StringVarP(&pagesOutput, "output", "o", "pages.cbor", "Bundle file to write (.cbor or .json)")
}
