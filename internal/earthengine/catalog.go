package earthengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

type listImagesResponse struct {
	Images        []imageResource `json:"images"`
	NextPageToken string          `json:"nextPageToken"`
}

type imageResource struct {
	Name       string          `json:"name"`
	ID         string          `json:"id"`
	StartTime  time.Time       `json:"startTime"`
	Bands      []bandResource  `json:"bands"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

type bandResource struct {
	ID   string `json:"id"`
	Grid struct {
		CRSCode string `json:"crsCode"`
	} `json:"grid"`
}

// inclusiveEndPad turns the exclusive listImages endTime into an inclusive one.
const inclusiveEndPad = time.Millisecond

// Query lists images of q.Collection whose footprint contains q.Point and whose
// acquisition time falls in [q.Start, q.End]. Results are sorted by acquisition
// time ascending. The remote endTime bound is exclusive, so one millisecond is
// added to keep q.End itself in range.
func (c *Client) Query(ctx context.Context, q harvest.CatalogQuery) ([]harvest.Image, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("earthengine: collection is required")
	}
	region, err := json.Marshal(map[string]any{
		"type":        "Point",
		"coordinates": []float64{q.Point.Lon, q.Point.Lat},
	})
	if err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/assets/%s:listImages", c.cfg.CatalogProject, q.Collection)
	params := map[string]string{
		"region":   string(region),
		"pageSize": strconv.Itoa(c.cfg.PageSize),
	}
	if !q.Start.IsZero() {
		params["startTime"] = q.Start.UTC().Format(time.RFC3339Nano)
	}
	if !q.End.IsZero() {
		params["endTime"] = q.End.Add(inclusiveEndPad).UTC().Format(time.RFC3339Nano)
	}

	var images []harvest.Image
	token := ""
	for {
		req := c.request(ctx).SetQueryParams(params)
		if token != "" {
			req.SetQueryParam("pageToken", token)
		}
		var page listImagesResponse
		if err := c.do(req, http.MethodGet, path, &page); err != nil {
			return nil, fmt.Errorf("list images %s: %w", q.Collection, err)
		}
		for _, res := range page.Images {
			images = append(images, c.toImage(res))
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Acquired.Before(images[j].Acquired)
	})
	c.logger.Debug("catalog query",
		zap.String("collection", q.Collection),
		zap.Time("start", q.Start),
		zap.Time("end", q.End),
		zap.Int("images", len(images)),
	)
	return images, nil
}

func (c *Client) toImage(res imageResource) harvest.Image {
	img := harvest.Image{
		ID:       res.ID,
		Acquired: res.StartTime.UTC(),
		Bands:    make([]harvest.Band, 0, len(res.Bands)),
	}
	if img.ID == "" {
		img.ID = assetID(res.Name)
	}
	for _, b := range res.Bands {
		img.Bands = append(img.Bands, harvest.Band{ID: b.ID, CRS: b.Grid.CRSCode})
	}
	if v, ok := res.Properties[c.cfg.CloudProperty]; ok {
		if pct, ok := toFloat(v); ok {
			img.CloudPct = &pct
		}
	}
	return img
}

// assetID strips the "projects/<p>/assets/" prefix from a resource name.
func assetID(name string) string {
	if _, id, ok := strings.Cut(name, "/assets/"); ok {
		return id
	}
	return name
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
