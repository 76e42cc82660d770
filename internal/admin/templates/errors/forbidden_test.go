package errors

import (
	"bytes"
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestForbiddenRendersMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	page := Forbidden(ForbiddenData{SiteTitle: "Ops", Message: "CSRF verification failed. Request aborted."})
	require.NoError(t, page.Render(context.Background(), &buf))

	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	require.Equal(t, "403 Forbidden | Ops", doc.Find("title").Text())
	require.Equal(t, "403 Forbidden", doc.Find("main.error h1").Text())
	require.Equal(t, "CSRF verification failed. Request aborted.", doc.Find("main.error p").Text())
	require.Zero(t, doc.Find(`meta[name="csrf-token"]`).Length())
}
