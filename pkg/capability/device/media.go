package device

import (
	"context"
	"fmt"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// CameraCapability captures a photo and produces an image reference for
// downstream vision steps.
type CameraCapability struct {
	Bridge Bridge
}

func (c *CameraCapability) Name() string { return "camera_capture" }

func (c *CameraCapability) Description() string {
	return "Captures a photo with the device camera and returns an image reference"
}

func (c *CameraCapability) Domain() capability.Domain { return capability.DomainMedia }

func (c *CameraCapability) RequiredPermissions() []permissions.Permission {
	return []permissions.Permission{permissions.Camera}
}

func (c *CameraCapability) RiskLevel() risk.Level { return risk.Medium }

func (c *CameraCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{
		Type: "object",
		Properties: map[string]capability.PropertySchema{
			"camera": {
				Type:        "string",
				Description: "Which camera to use",
				Default:     "rear",
				Enum:        []string{"rear", "front"},
			},
		},
	}
}

func (c *CameraCapability) ValidateParams(params map[string]any) error {
	cam, ok := params["camera"]
	if !ok {
		return nil
	}
	s, ok := cam.(string)
	if !ok || (s != "rear" && s != "front") {
		return fmt.Errorf("camera must be %q or %q", "rear", "front")
	}
	return nil
}

func (c *CameraCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"photo", "picture", "camera", "capture", "take a photo"})
}

func (c *CameraCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataImage}
}

func (c *CameraCapability) Consumes() []capability.DataKind { return nil }

func (c *CameraCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	camera := "rear"
	if v, ok := params["camera"].(string); ok && v != "" {
		camera = v
	}
	if onProgress != nil {
		onProgress(fmt.Sprintf("Opening %s camera", camera))
	}
	ref, err := c.Bridge.CapturePhoto(ctx, camera)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	if onProgress != nil {
		onProgress("Photo captured")
	}
	return &capability.Result{
		Success: true,
		Message: "Photo captured",
		Data:    map[string]any{"image": ref, "camera": camera},
	}, nil
}

// OCRCapability recognizes text in a captured image. It consumes the image
// reference produced by camera_capture, which is what orders an OCR step
// after its capture step in a plan.
type OCRCapability struct {
	Bridge Bridge
}

func (c *OCRCapability) Name() string { return "text_recognition" }

func (c *OCRCapability) Description() string {
	return "Recognizes and extracts text from a captured image"
}

func (c *OCRCapability) Domain() capability.Domain { return capability.DomainVision }

func (c *OCRCapability) RequiredPermissions() []permissions.Permission { return nil }

func (c *OCRCapability) RiskLevel() risk.Level { return risk.Low }

func (c *OCRCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{
		Type: "object",
		Properties: map[string]capability.PropertySchema{
			"image": {Type: "string", Description: "Image reference to recognize text in"},
		},
	}
}

func (c *OCRCapability) ValidateParams(params map[string]any) error { return nil }

func (c *OCRCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"read", "text", "ocr", "recognize", "scan"})
}

func (c *OCRCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataText}
}

func (c *OCRCapability) Consumes() []capability.DataKind {
	return []capability.DataKind{capability.DataImage}
}

func (c *OCRCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	ref, _ := params["image"].(string)
	if onProgress != nil {
		onProgress("Recognizing text")
	}
	text, err := c.Bridge.RecognizeText(ctx, ref)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	msg := "No text found in image"
	if text != "" {
		msg = fmt.Sprintf("Recognized %d characters", len(text))
	}
	return &capability.Result{
		Success: true,
		Message: msg,
		Data:    map[string]any{"text": text},
	}, nil
}
