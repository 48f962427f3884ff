package earthengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

// ValueNode is one node of an Earth Engine expression graph.
type ValueNode struct {
	ConstantValue           any                 `json:"constantValue,omitempty"`
	ArrayValue              *ArrayValue         `json:"arrayValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
}

// ArrayValue holds a list of nodes.
type ArrayValue struct {
	Values []ValueNode `json:"values"`
}

// FunctionInvocation calls a named API function.
type FunctionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]ValueNode `json:"arguments"`
}

// Expression is a serialized computation rooted at Result.
type Expression struct {
	Result string               `json:"result"`
	Values map[string]ValueNode `json:"values"`
}

func constant(v any) ValueNode {
	return ValueNode{ConstantValue: v}
}

func invoke(name string, args map[string]ValueNode) ValueNode {
	return ValueNode{FunctionInvocationValue: &FunctionInvocation{FunctionName: name, Arguments: args}}
}

// ClipExpression loads imageID, selects bands and clips it to region.
func ClipExpression(imageID string, bands []string, region harvest.Polygon) Expression {
	image := invoke("Image.load", map[string]ValueNode{"id": constant(imageID)})
	if len(bands) > 0 {
		selectors := make([]ValueNode, 0, len(bands))
		for _, b := range bands {
			selectors = append(selectors, constant(b))
		}
		image = invoke("Image.select", map[string]ValueNode{
			"input":         image,
			"bandSelectors": {ArrayValue: &ArrayValue{Values: selectors}},
		})
	}
	ring := make([][]float64, 0, len(region))
	for _, p := range region {
		ring = append(ring, []float64{p[0], p[1]})
	}
	geometry := invoke("GeometryConstructors.Polygon", map[string]ValueNode{
		"coordinates": constant([][][]float64{ring}),
		"geodesic":    constant(false),
	})
	clipped := invoke("Image.clip", map[string]ValueNode{
		"input":    image,
		"geometry": geometry,
	})
	return Expression{Result: "0", Values: map[string]ValueNode{"0": clipped}}
}

type exportImageRequest struct {
	Expression        Expression        `json:"expression"`
	Description       string            `json:"description,omitempty"`
	FileExportOptions fileExportOptions `json:"fileExportOptions"`
	Grid              *pixelGrid        `json:"grid,omitempty"`
	MaxPixels         string            `json:"maxPixels,omitempty"`
	RequestID         string            `json:"requestId"`
}

type fileExportOptions struct {
	FileFormat     string          `json:"fileFormat"`
	GCSDestination gcsDestination  `json:"gcsDestination"`
	GeoTIFFOptions *geoTIFFOptions `json:"geoTiffOptions,omitempty"`
}

type gcsDestination struct {
	Bucket         string `json:"bucket"`
	FilenamePrefix string `json:"filenamePrefix"`
}

type geoTIFFOptions struct {
	CloudOptimized bool `json:"cloudOptimized"`
}

type pixelGrid struct {
	CRSCode         string           `json:"crsCode,omitempty"`
	AffineTransform *affineTransform `json:"affineTransform,omitempty"`
}

type affineTransform struct {
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
}

func buildExportRequest(req harvest.ExportRequest) exportImageRequest {
	body := exportImageRequest{
		Expression:  ClipExpression(req.Image.ID, req.Bands, req.Region),
		Description: req.Description,
		FileExportOptions: fileExportOptions{
			FileFormat: "GEO_TIFF",
			GCSDestination: gcsDestination{
				Bucket:         req.Bucket,
				FilenamePrefix: req.OutputPrefix,
			},
			GeoTIFFOptions: &geoTIFFOptions{CloudOptimized: req.CloudOptimized},
		},
		RequestID: uuid.NewString(),
	}
	if req.CRS != "" || req.Scale > 0 {
		body.Grid = &pixelGrid{CRSCode: req.CRS}
		if req.Scale > 0 {
			body.Grid.AffineTransform = &affineTransform{ScaleX: req.Scale, ScaleY: -req.Scale}
		}
	}
	if req.MaxPixels > 0 {
		body.MaxPixels = strconv.FormatFloat(req.MaxPixels, 'f', 0, 64)
	}
	return body
}

// StartExport submits an image export to cloud storage and returns as soon as
// the operation is accepted.
func (c *Client) StartExport(ctx context.Context, req harvest.ExportRequest) (harvest.ExportJob, error) {
	if req.Image.ID == "" {
		return nil, errors.New("earthengine: export requires an image id")
	}
	if req.Bucket == "" || req.OutputPrefix == "" {
		return nil, errors.New("earthengine: export requires a bucket and output prefix")
	}
	var op operationResource
	path := fmt.Sprintf("/%s/image:export", c.projectPath())
	if err := c.do(c.request(ctx).SetBody(buildExportRequest(req)), http.MethodPost, path, &op); err != nil {
		return nil, fmt.Errorf("export %s: %w", req.OutputPrefix, err)
	}
	if op.Name == "" {
		return nil, fmt.Errorf("export %s: response carried no operation name", req.OutputPrefix)
	}
	c.logger.Debug("export started",
		zap.String("operation", op.Name),
		zap.String("image", req.Image.ID),
		zap.String("prefix", req.OutputPrefix),
	)
	return &Job{client: c, name: op.Name}, nil
}

// Job is the handle of a started export operation.
type Job struct {
	client *Client
	name   string
}

// ID returns the operation resource name.
func (j *Job) ID() string { return j.name }

// Status fetches the operation and maps its state.
func (j *Job) Status(ctx context.Context) (harvest.JobState, error) {
	op, err := j.client.GetOperation(ctx, j.name)
	if err != nil {
		return harvest.JobUnknown, err
	}
	return op.JobState(), nil
}
