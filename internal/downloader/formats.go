package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
)

// DefaultMaxAudio is the number of audio tracks offered per video stream.
const DefaultMaxAudio = 3

// minYouTubeAudioKbps drops the low bitrate audio tracks YouTube always lists.
const minYouTubeAudioKbps = 66.7

// Format kinds.
const (
	FormatVideoAudio = "video+audio"
	FormatAudioOnly  = "audio-only"
	FormatVideoOnly  = "video-only"
)

// Format is one selectable format. Format is passed back as the download
// request's format selector.
type Format struct {
	Type        string `json:"type"`
	Format      string `json:"format"`
	Label       string `json:"label"`
	VideoFormat string `json:"video_format,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	Note        string `json:"note,omitempty"`
}

// FormatListing is the result of probing a source URL.
type FormatListing struct {
	Title     string   `json:"title"`
	Filename  string   `json:"filename"`
	Formats   []Format `json:"formats"`
	Subtitles []string `json:"subtitles,omitempty"`
}

// FormatLister reads the formats of a source without downloading it.
// Failures are reported wrapped in model.ErrDownloadFailed.
type FormatLister interface {
	ListFormats(ctx context.Context, url string) (*FormatListing, error)
}

// fallbackFormats is offered when the source lists formats but none of them
// fit the video/audio split.
var fallbackFormats = []Format{
	{Type: FormatVideoAudio, Format: "best", Label: "Best available", VideoFormat: "best", AudioFormat: "best"},
	{Type: FormatAudioOnly, Format: "bestaudio", Label: "Best audio", AudioFormat: "best"},
	{Type: FormatVideoOnly, Format: "bestvideo", Label: "Best video", VideoFormat: "best"},
}

// mediaInfo is the subset of yt-dlp's --dump-json output we read.
type mediaInfo struct {
	Title        string                     `json:"title"`
	Filename     string                     `json:"filename"`
	ExtractorKey string                     `json:"extractor_key"`
	Formats      []rawFormat                `json:"formats"`
	Subtitles    map[string]json.RawMessage `json:"subtitles"`
}

type rawFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	VCodec     string   `json:"vcodec"`
	ACodec     string   `json:"acodec"`
	Height     *float64 `json:"height"`
	ABR        float64  `json:"abr"`
	FormatNote string   `json:"format_note"`
}

// video reports a video-only stream. A missing codec counts as present.
func (f rawFormat) video() bool {
	return f.VCodec != "none" && f.ACodec == "none" && f.Height != nil
}

func (f rawFormat) audio() bool {
	return f.ACodec != "none" && f.VCodec == "none" && f.ABR > 0
}

func (f rawFormat) height() int {
	if f.Height == nil {
		return 0
	}
	return int(*f.Height)
}

// Compile-time verification that YtDlp implements FormatLister.
var _ FormatLister = (*YtDlp)(nil)

// ListFormats asks yt-dlp for the source metadata and builds the selectable
// formats from it.
func (d *YtDlp) ListFormats(ctx context.Context, url string) (*FormatListing, error) {
	cmd := ytdlp.New().
		DumpJSON().
		SkipDownload().
		NoPlaylist().
		NoWarnings().
		NoProgress()

	if d.config.BinaryPath != "" {
		cmd.SetExecutable(d.config.BinaryPath)
	}
	if d.config.CookieFile != "" {
		cmd.Cookies(d.config.CookieFile)
	}

	res, err := d.run(ctx, cmd, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: cancelled: %w", model.ErrDownloadFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: yt-dlp: %s", model.ErrDownloadFailed, engineMessage(res, err))
	}

	listing, err := ParseFormats([]byte(res.Stdout), DefaultMaxAudio)
	if err != nil {
		if errors.Is(err, model.ErrNoFormats) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", model.ErrDownloadFailed, err)
	}
	return listing, nil
}

// ParseFormats reads the first JSON document of yt-dlp --dump-json output.
// It returns model.ErrNoFormats when the source lists no formats at all.
func ParseFormats(output []byte, maxAudio int) (*FormatListing, error) {
	var info mediaInfo
	found := false
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		found = true
		break
	}
	if !found {
		return nil, errors.New("no metadata in engine output")
	}
	if len(info.Formats) == 0 {
		return nil, model.ErrNoFormats
	}

	formats := buildFormats(info.Formats, maxAudio, info.ExtractorKey == "Youtube")
	if len(formats) == 0 {
		formats = append([]Format(nil), fallbackFormats...)
	}

	subs := make([]string, 0, len(info.Subtitles))
	for lang := range info.Subtitles {
		subs = append(subs, lang)
	}
	sort.Strings(subs)

	return &FormatListing{
		Title:     info.Title,
		Filename:  info.Filename,
		Formats:   formats,
		Subtitles: subs,
	}, nil
}

// buildFormats pairs every video-only stream with the best audio tracks,
// then lists the audio-only and video-only streams on their own.
func buildFormats(raw []rawFormat, maxAudio int, youtube bool) []Format {
	if maxAudio <= 0 {
		maxAudio = DefaultMaxAudio
	}

	var videos, audios []rawFormat
	for _, f := range raw {
		switch {
		case f.video():
			videos = append(videos, f)
		case f.audio():
			audios = append(audios, f)
		}
	}
	sort.SliceStable(audios, func(i, j int) bool { return audios[i].ABR > audios[j].ABR })
	if len(audios) > maxAudio {
		audios = audios[:maxAudio]
	}

	byHeight := append([]rawFormat(nil), videos...)
	sort.SliceStable(byHeight, func(i, j int) bool { return byHeight[i].height() > byHeight[j].height() })

	var out []Format
	for _, v := range byHeight {
		if v.Ext == "webm" && v.height() <= 1080 {
			continue
		}
		if youtube && v.FormatNote == "" {
			continue
		}
		for _, a := range audios {
			if youtube && a.ABR <= minYouTubeAudioKbps {
				continue
			}
			out = append(out, Format{
				Type:        FormatVideoAudio,
				Format:      v.FormatID + "+" + a.FormatID,
				Label:       fmt.Sprintf("%dp (%s) [Audio: %.1fKbps]", v.height(), v.Ext, a.ABR),
				VideoFormat: v.FormatID,
				AudioFormat: a.FormatID,
				Note:        v.FormatNote,
			})
		}
	}

	for _, a := range audios {
		out = append(out, Format{
			Type:        FormatAudioOnly,
			Format:      a.FormatID,
			Label:       fmt.Sprintf("Audio only: %.1fkbps (%s)", a.ABR, a.Ext),
			AudioFormat: a.FormatID,
			Note:        a.FormatNote,
		})
	}

	for _, v := range videos {
		out = append(out, Format{
			Type:        FormatVideoOnly,
			Format:      v.FormatID,
			Label:       fmt.Sprintf("Video only: %dp (%s)", v.height(), v.Ext),
			VideoFormat: v.FormatID,
			Note:        v.FormatNote,
		})
	}
	return out
}
