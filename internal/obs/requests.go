package obs

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Version returns the OBS and plugin versions.
func (c *Client) Version(ctx context.Context) (Version, error) {
	var v Version
	err := c.call(ctx, "GetVersion", nil, &v)
	return v, err
}

// RecordStatus reports whether the record output is active.
func (c *Client) RecordStatus(ctx context.Context) (bool, error) {
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.call(ctx, "GetRecordStatus", nil, &resp); err != nil {
		return false, err
	}
	return resp.OutputActive, nil
}

// StartRecord starts the record output.
func (c *Client) StartRecord(ctx context.Context) error {
	return c.call(ctx, "StartRecord", nil, nil)
}

// StopRecord stops the record output and returns the path of the file
// being finalised. The file is only complete once the RecordStopped event
// arrives.
func (c *Client) StopRecord(ctx context.Context) (string, error) {
	var resp struct {
		OutputPath string `json:"outputPath"`
	}
	if err := c.call(ctx, "StopRecord", nil, &resp); err != nil {
		return "", err
	}
	return resp.OutputPath, nil
}

// RecordDirectory returns the directory OBS writes recordings to.
func (c *Client) RecordDirectory(ctx context.Context) (string, error) {
	var resp struct {
		RecordDirectory string `json:"recordDirectory"`
	}
	if err := c.call(ctx, "GetRecordDirectory", nil, &resp); err != nil {
		return "", err
	}
	return resp.RecordDirectory, nil
}

// CurrentScene returns the current program scene.
func (c *Client) CurrentScene(ctx context.Context) (string, error) {
	var resp struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := c.call(ctx, "GetCurrentProgramScene", nil, &resp); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.scene = resp.CurrentProgramSceneName
	c.mu.Unlock()
	return resp.CurrentProgramSceneName, nil
}

// SetScene switches the program scene. Switching to the scene already on
// program, or to "", is a no-op.
func (c *Client) SetScene(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	c.mu.Lock()
	current := c.scene
	c.mu.Unlock()
	if current == name {
		return nil
	}
	if err := c.call(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": name}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.scene = name
	c.mu.Unlock()
	return nil
}

// VideoSettings returns the current canvas and output settings.
func (c *Client) VideoSettings(ctx context.Context) (VideoSettings, error) {
	var v VideoSettings
	err := c.call(ctx, "GetVideoSettings", nil, &v)
	return v, err
}

// ApplyVideo merges vs into the current settings and sends them only when
// something changes. OBS rejects changes while an output is active.
func (c *Client) ApplyVideo(ctx context.Context, vs model.VideoSettings) error {
	if vs.IsZero() {
		return nil
	}
	cur, err := c.VideoSettings(ctx)
	if err != nil {
		return err
	}
	want, err := mergeVideo(cur, vs)
	if err != nil {
		return err
	}
	if want == cur {
		return nil
	}
	if err := c.call(ctx, "SetVideoSettings", want, nil); err != nil {
		return err
	}
	c.logger.Info("applied video settings",
		"base", fmt.Sprintf("%dx%d", want.BaseWidth, want.BaseHeight),
		"output", fmt.Sprintf("%dx%d", want.OutputWidth, want.OutputHeight),
		"fps", want.FPSNumerator)
	return nil
}

func mergeVideo(cur VideoSettings, vs model.VideoSettings) (VideoSettings, error) {
	want := cur
	if vs.Resolution != "" {
		w, h, err := model.ParseResolution(vs.Resolution)
		if err != nil {
			return cur, err
		}
		want.BaseWidth, want.BaseHeight = w, h
	}
	if vs.Output != "" {
		w, h, err := model.ParseResolution(vs.Output)
		if err != nil {
			return cur, err
		}
		want.OutputWidth, want.OutputHeight = w, h
	}
	if vs.FPS > 0 {
		want.FPSNumerator, want.FPSDenominator = vs.FPS, 1
	}
	return want, nil
}
