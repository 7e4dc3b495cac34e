package navigator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/fetch"
)

const formHTML = `<html><body><form>
<input type="text" name="ctl0$texteRecherche_motCle"/>
<select name="ctl0$etatConsultation"><option>en_cours</option></select>
<input type="text" name="ctl0$dateDebut"/>
<input type="text" name="ctl0$dateFin"/>
<input type="submit" name="ctl0$lancerRecherche"/>
</form></body></html>`

// fakeSession scripts the browser surface: Navigate shows the form, the
// submit click switches to the first results page, next clicks advance.
type fakeSession struct {
	results  []string
	idx      int
	onForm   bool
	set      []string
	waitErrs []error
	clicks   []string
}

func (f *fakeSession) Navigate(context.Context, string, string) error {
	f.onForm = true
	f.idx = 0
	return nil
}

func (f *fakeSession) SetValue(_ context.Context, sel, _ string) error {
	f.set = append(f.set, sel)
	return nil
}

func (f *fakeSession) Click(_ context.Context, sel string) error {
	f.clicks = append(f.clicks, sel)
	if strings.Contains(sel, "submit") {
		f.onForm = false
		f.idx = 0
		return nil
	}
	f.advance()
	return nil
}

func (f *fakeSession) ClickText(_ context.Context, text string) error {
	f.clicks = append(f.clicks, "text:"+text)
	f.advance()
	return nil
}

// advance moves to the next page; past the end it stays put, which the
// navigator must detect as a revisit.
func (f *fakeSession) advance() {
	if f.idx+1 < len(f.results) {
		f.idx++
	}
}

func (f *fakeSession) WaitVisible(context.Context, string) error {
	if len(f.waitErrs) == 0 {
		return nil
	}
	err := f.waitErrs[0]
	f.waitErrs = f.waitErrs[1:]
	return err
}

func (f *fakeSession) HTML(context.Context) (string, error) {
	if f.onForm {
		return formHTML, nil
	}
	return f.results[f.idx], nil
}

func resultsPage(marker string, withNext bool) string {
	next := ""
	if withNext {
		next = `<a rel="next" href="#">2</a>`
	}
	return `<html><body><table><tr><td>` + marker + `</td></tr></table>` + next + `</body></html>`
}

func TestRunWalksAllPages(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{results: []string{
		resultsPage("page-1", true),
		resultsPage("page-2", false),
	}}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	var handled []int
	pages, err := nav.Run(context.Background(), Query{Keyword: "pont"}, func(n int, html []byte) error {
		handled = append(handled, n)
		assert.Contains(t, string(html), "page-")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, []int{1, 2}, handled)
	assert.Equal(t, StateDone, nav.State())
}

func TestRunFollowsSuivantLabel(t *testing.T) {
	t.Parallel()

	first := `<html><body><table><tr><td>p1</td></tr></table><a href="#">Suivant »</a></body></html>`
	sess := &fakeSession{results: []string{first, resultsPage("p2", false)}}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	pages, err := nav.Run(context.Background(), Query{Keyword: "x"}, func(int, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Contains(t, sess.clicks, "text:Suivant")
}

func TestRunStopsAtPageCeiling(t *testing.T) {
	t.Parallel()

	// Every page advertises a next link; only the ceiling can stop the walk.
	pagesHTML := make([]string, 10)
	for i := range pagesHTML {
		pagesHTML[i] = resultsPage("p"+string(rune('0'+i)), true)
	}
	sess := &fakeSession{results: pagesHTML}
	nav := New(sess, Config{StartURL: "https://portal.example/search", MaxPages: 3}, zap.NewNop())

	pages, err := nav.Run(context.Background(), Query{Keyword: "x"}, func(int, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, StateDone, nav.State())
}

func TestRunDetectsRevisitedPage(t *testing.T) {
	t.Parallel()

	// One page claiming a next link: the click leads back to the same markup.
	sess := &fakeSession{results: []string{resultsPage("stuck", true)}}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	pages, err := nav.Run(context.Background(), Query{Keyword: "x"}, func(int, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, StateDone, nav.State())
}

func TestRunBroadensQueryAfterResultsTimeout(t *testing.T) {
	t.Parallel()

	timeout := fetch.NewError(fetch.KindTimeout, "table", context.DeadlineExceeded)
	sess := &fakeSession{
		results:  []string{resultsPage("p1", false)},
		waitErrs: []error{timeout},
	}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	q := Query{Keyword: "pont", Status: "en_cours"}
	pages, err := nav.Run(context.Background(), q, func(int, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	// First fill binds keyword and status, the broadened retry keyword alone.
	var statusBinds int
	for _, sel := range sess.set {
		if strings.Contains(sel, "etatConsultation") {
			statusBinds++
		}
	}
	assert.Equal(t, 1, statusBinds)
}

func TestRunFailsWhenBroadenedQueryTimesOut(t *testing.T) {
	t.Parallel()

	timeout := fetch.NewError(fetch.KindTimeout, "table", context.DeadlineExceeded)
	sess := &fakeSession{
		results:  []string{resultsPage("p1", false)},
		waitErrs: []error{timeout, timeout},
	}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	pages, err := nav.Run(context.Background(), Query{Keyword: "x"}, func(int, []byte) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 0, pages)
	assert.Equal(t, StateFailed, nav.State())
}

func TestRunReportsPartialProgressOnHandlerError(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{results: []string{
		resultsPage("p1", true),
		resultsPage("p2", false),
	}}
	nav := New(sess, Config{StartURL: "https://portal.example/search"}, zap.NewNop())

	boom := errors.New("extract failed")
	pages, err := nav.Run(context.Background(), Query{Keyword: "x"}, func(n int, _ []byte) error {
		if n == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, pages)
	assert.Equal(t, StateFailed, nav.State())
}

func TestMatchControlBySubstring(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(formHTML))
	require.NoError(t, err)

	sel, ok := matchControl(doc, fieldHints["keyword"])
	require.True(t, ok)
	assert.Equal(t, `[name="ctl0$texteRecherche_motCle"]`, sel)

	sel, ok = matchControl(doc, fieldHints["status"])
	require.True(t, ok)
	assert.Equal(t, `[name="ctl0$etatConsultation"]`, sel)

	_, ok = matchControl(doc, []string{"nosuchfield"})
	assert.False(t, ok)
}

func TestFindNextPrefersRelLink(t *testing.T) {
	t.Parallel()

	next, ok := findNext(resultsPage("p", true))
	require.True(t, ok)
	assert.Equal(t, `a[rel="next"]`, next.selector)

	next, ok = findNext(`<html><body><a href="#">Suivant</a></body></html>`)
	require.True(t, ok)
	assert.Equal(t, "Suivant", next.text)

	_, ok = findNext(resultsPage("p", false))
	assert.False(t, ok)
}
