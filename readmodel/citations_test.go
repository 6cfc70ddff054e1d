package readmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wildkoala/chronicle/conversation"
)

func TestFilterCitedSources(t *testing.T) {
	a := "6fa459ea-ee8a-3ca4-894e-db77e160355e"
	b := "886313e1-3b8a-5372-9b90-0c9aee199e5d"
	sources := []conversation.Source{{ID: a}, {ID: b}}

	t.Run("keeps only cited", func(t *testing.T) {
		kept := FilterCitedSources("see [uuid:"+a+"]", sources)
		assert.Equal(t, []conversation.Source{{ID: a}}, kept)
	})

	t.Run("keeps all when all cited", func(t *testing.T) {
		kept := FilterCitedSources("[uuid:"+a+"] and [uuid:"+b+"]", sources)
		assert.Equal(t, sources, kept)
	})

	t.Run("nil when nothing cited", func(t *testing.T) {
		assert.Nil(t, FilterCitedSources("no markers", sources))
	})

	t.Run("nil for no sources", func(t *testing.T) {
		assert.Nil(t, FilterCitedSources("[uuid:"+a+"]", nil))
	})

	t.Run("malformed markers do not match", func(t *testing.T) {
		assert.Nil(t, FilterCitedSources("[uuid:not-a-uuid] [uuid:"+a[:10]+"]", sources))
	})

	t.Run("citation of unknown source keeps nothing extra", func(t *testing.T) {
		kept := FilterCitedSources("[uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee]", sources)
		assert.Nil(t, kept)
	})
}
