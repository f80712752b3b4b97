// Package catalog loads product feeds and coupon code dumps into the hosted
// catalog.
package catalog

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

// ReadProducts reads a JSON array of products from path. Files ending in .gz
// are decompressed first.
func ReadProducts(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return DecodeProducts(r)
}

// DecodeProducts parses a JSON array of products.
func DecodeProducts(r io.Reader) ([]product.Product, error) {
	var feed []productJSON
	if err := json.NewDecoder(r).Decode(&feed); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(feed))
	seen := make(map[string]struct{}, len(feed))
	for i, p := range feed {
		if p.ID == "" {
			return nil, errors.Errorf("product #%d: missing id", i)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %s: negative price %s", p.ID, p.Price)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		out = append(out, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		})
	}
	return out, nil
}
