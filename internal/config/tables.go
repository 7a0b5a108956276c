package config

import (
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

const defaultKey = "Default"

// sceneTable maps "Default" or a state name to a scene name.
type sceneTable map[string]string

func (t sceneTable) get(s model.State) string {
	if t == nil {
		return ""
	}
	return t[string(s)]
}

func canonicalSceneKey(k string) (string, bool) {
	if strings.EqualFold(k, defaultKey) {
		return defaultKey, true
	}
	s, err := model.ParseState(k)
	if err != nil {
		return "", false
	}
	return string(s), true
}

// decodeTables splits [scenes] and [video] into global keys and per-game tables.
func (c *Config) decodeTables(md toml.MetaData, ve *model.ValidationError) {
	c.scenes = sceneTable{}
	c.gameScenes = map[string]sceneTable{}
	for key, prim := range c.RawScenes {
		if md.Type("scenes", key) == "Hash" {
			var raw map[string]string
			if err := md.PrimitiveDecode(prim, &raw); err != nil {
				ve.Add("scenes."+key, "%v", err)
				continue
			}
			t := sceneTable{}
			for k, v := range raw {
				ck, ok := canonicalSceneKey(k)
				if !ok {
					ve.Add("scenes."+key+"."+k, "unknown key (want Default or a state name)")
					continue
				}
				t[ck] = v
			}
			c.gameScenes[key] = t
			continue
		}
		ck, ok := canonicalSceneKey(key)
		if !ok {
			ve.Add("scenes."+key, "unknown key (want Default, a state name or a game table)")
			continue
		}
		var v string
		if err := md.PrimitiveDecode(prim, &v); err != nil {
			ve.Add("scenes."+key, "%v", err)
			continue
		}
		c.scenes[ck] = v
	}

	c.gameVideo = map[string]model.VideoSettings{}
	for key, prim := range c.RawVideo {
		field := "video." + key
		if md.Type("video", key) == "Hash" {
			var v model.VideoSettings
			if err := md.PrimitiveDecode(prim, &v); err != nil {
				ve.Add(field, "%v", err)
				continue
			}
			validateVideo(ve, field, v)
			c.gameVideo[key] = v
			continue
		}
		var err error
		switch strings.ToLower(key) {
		case "base":
			err = md.PrimitiveDecode(prim, &c.video.Resolution)
		case "output":
			err = md.PrimitiveDecode(prim, &c.video.Output)
		case "fps":
			err = md.PrimitiveDecode(prim, &c.video.FPS)
		default:
			ve.Add(field, "unknown key (want Base, Output, FPS or a game table)")
			continue
		}
		if err != nil {
			ve.Add(field, "%v", err)
		}
	}
	validateVideo(ve, "video", c.video)
}

func validateVideo(ve *model.ValidationError, field string, v model.VideoSettings) {
	for name, res := range map[string]string{"Base": v.Resolution, "Output": v.Output} {
		if res == "" {
			continue
		}
		if _, _, err := model.ParseResolution(res); err != nil {
			ve.Add(field+"."+name, "%v", err)
		}
	}
	if v.FPS < 0 {
		ve.Add(field+".FPS", "must be >= 0, got %d", v.FPS)
	}
}

// Scene resolves the scene for a game in a state:
// [scenes.GAME].State, profile scenes, [scenes.GAME].Default, [scenes].State,
// [scenes].Default. A nil game resolves only the global keys. "" means no switch.
func (c *Config) Scene(game *model.GameProfile, s model.State) string {
	if game != nil {
		gt := c.gameScenes[game.ID]
		if v := gt.get(s); v != "" {
			return v
		}
		if v := game.Scenes.For(s); v != "" {
			return v
		}
		if v := gt[defaultKey]; v != "" {
			return v
		}
	}
	if v := c.scenes.get(s); v != "" {
		return v
	}
	return c.scenes[defaultKey]
}

// Video resolves the recorder settings for a game: [video], then the
// profile, then [video.GAME].
func (c *Config) Video(game *model.GameProfile) model.VideoSettings {
	v := c.video
	if game != nil {
		v = v.Overlay(game.Video).Overlay(c.gameVideo[game.ID])
	}
	return v
}
