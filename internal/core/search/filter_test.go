package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-core/internal/domain"
)

func ids(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func sample() []domain.Message {
	return []domain.Message{
		{ID: "1", Kind: domain.KindText, Text: "Olá, tudo bem?", SenderName: "Ana"},
		{ID: "2", Kind: domain.KindAudio, AudioURL: "http://blob/1.m4a", SenderName: "Bruno"},
		{ID: "3", Kind: domain.KindText, Text: "mandei um ÁUDIO agora", SenderName: "Ana"},
		{ID: "4", Kind: domain.KindFile, FileURL: "http://blob/r.pdf", FileName: "Relatorio.pdf", SenderName: "Bruno"},
		{ID: "5", Kind: domain.KindVideo, VideoURL: "http://blob/v.mp4", SenderName: "Carla"},
		{ID: "6", Kind: domain.KindImage, ImageURL: "http://blob/i.png", SenderName: "Carla"},
		{ID: "7", Kind: domain.KindText, Text: "audio test", SenderName: "Dani"},
	}
}

func TestMessages_EmptyQueryIsIdentity(t *testing.T) {
	in := sample()
	assert.Equal(t, in, Messages(in, ""))
	assert.Equal(t, in, Messages(in, "   "))
}

func TestMessages_AudioQueries(t *testing.T) {
	in := sample()

	assert.Equal(t, []string{"2", "3"}, ids(Messages(in, "áudio")))
	assert.Equal(t, []string{"2", "7"}, ids(Messages(in, "audio")), "english label matches AUDIO, text matches literally")
}

func TestMessages_Fields(t *testing.T) {
	in := sample()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "по тексту без учета регистра", query: "TUDO", want: []string{"1"}},
		{name: "by sender name", query: "carla", want: []string{"5", "6"}},
		{name: "по имени файла", query: "relatorio", want: []string{"4"}},
		{name: "kind label", query: "víd", want: []string{"5"}},
		{name: "image label", query: "imagem", want: []string{"6"}},
		{name: "no match", query: "zzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Messages(in, tt.query)))
		})
	}
}

func TestMessages_VisualOnlyAlwaysIncluded(t *testing.T) {
	in := []domain.Message{
		{ID: "s1", Kind: domain.KindSticker, ImageURL: "http://blob/s.webp"},
		{ID: "s2", Kind: domain.KindSticker},
		{ID: "e1", Kind: domain.KindEmoji, Text: "🎉"},
		{ID: "t1", Kind: domain.KindText, Text: "nothing"},
	}
	assert.Equal(t, []string{"s1", "e1"}, ids(Messages(in, "qualquer")))
}

func TestMessages_Idempotent(t *testing.T) {
	in := sample()
	for _, q := range []string{"a", "áudio", "Bruno", "pdf", ""} {
		once := Messages(in, q)
		assert.Equal(t, once, Messages(once, q), "query %q", q)
	}
}

func TestFilter_CustomLabels(t *testing.T) {
	f := NewFilter(Labels{domain.KindAudio: {"voice"}})
	in := sample()

	assert.Equal(t, []string{"2"}, ids(f.Apply(in, "voice")))
	assert.Equal(t, []string{"3"}, ids(f.Apply(in, "áudio")), "configured kind replaces its defaults")
	assert.Equal(t, []string{"5"}, ids(f.Apply(in, "vídeo")), "other kinds keep default labels")
	assert.Equal(t, []string{"6"}, ids(f.Apply(in, "imagem")))
	assert.Equal(t, []string{"4"}, ids(f.Apply(in, "arquivo")))
}

func TestMessages_UnsupportedKindSearchableByText(t *testing.T) {
	in := []domain.Message{{ID: "u1", Kind: domain.KindUnsupported, Text: "poll results", SenderName: "Eva"}}
	assert.Equal(t, []string{"u1"}, ids(Messages(in, "POLL")))
	assert.Equal(t, []string{"u1"}, ids(Messages(in, "eva")))
}
