package obsws

import "context"

// SaveScreenshotParams maps SaveSourceScreenshot request fields.
// Zero width/height are omitted and the host uses the source size.
type SaveScreenshotParams struct {
	SourceName  string `json:"sourceName"`
	ImageFormat string `json:"imageFormat"`
	FilePath    string `json:"imageFilePath"`
	Width       int    `json:"imageWidth,omitempty"`
	Height      int    `json:"imageHeight,omitempty"`
}

// SaveSourceScreenshot asks the host to write a screenshot of a source to disk.
func (c *Client) SaveSourceScreenshot(ctx context.Context, p SaveScreenshotParams) error {
	if p.ImageFormat == "" {
		p.ImageFormat = "png"
	}
	return c.Call(ctx, "SaveSourceScreenshot", p, nil)
}

type GetScreenshotParams struct {
	SourceName  string `json:"sourceName"`
	ImageFormat string `json:"imageFormat"`
	Width       int    `json:"imageWidth,omitempty"`
	Height      int    `json:"imageHeight,omitempty"`
}

// GetSourceScreenshot returns the screenshot as a data URI ("data:image/png;base64,...").
func (c *Client) GetSourceScreenshot(ctx context.Context, p GetScreenshotParams) (string, error) {
	if p.ImageFormat == "" {
		p.ImageFormat = "png"
	}
	var out struct {
		ImageData string `json:"imageData"`
	}
	if err := c.Call(ctx, "GetSourceScreenshot", p, &out); err != nil {
		return "", err
	}
	return out.ImageData, nil
}

type Scene struct {
	SceneName  string `json:"sceneName"`
	SceneUUID  string `json:"sceneUuid,omitempty"`
	SceneIndex int    `json:"sceneIndex"`
}

type SceneList struct {
	CurrentProgramSceneName string  `json:"currentProgramSceneName"`
	Scenes                  []Scene `json:"scenes"`
}

func (c *Client) GetSceneList(ctx context.Context) (SceneList, error) {
	var out SceneList
	err := c.Call(ctx, "GetSceneList", nil, &out)
	return out, err
}

type Input struct {
	InputName string `json:"inputName"`
	InputKind string `json:"inputKind"`
}

func (c *Client) GetInputList(ctx context.Context) ([]Input, error) {
	var out struct {
		Inputs []Input `json:"inputs"`
	}
	err := c.Call(ctx, "GetInputList", nil, &out)
	return out.Inputs, err
}

type SceneItem struct {
	SceneItemID int    `json:"sceneItemId"`
	SourceName  string `json:"sourceName"`
	SourceType  string `json:"sourceType"`
	InputKind   string `json:"inputKind,omitempty"`
}

func (c *Client) GetSceneItemList(ctx context.Context, sceneName string) ([]SceneItem, error) {
	var out struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}
	err := c.Call(ctx, "GetSceneItemList", map[string]string{"sceneName": sceneName}, &out)
	return out.SceneItems, err
}
