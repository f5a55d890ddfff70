package web_test

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/csrf"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
	"github.com/jmcleod/ironsession/storage/memory"
	"github.com/jmcleod/ironsession/web"
)

var tokenField = regexp.MustCompile(`name="RandomToken" value="([0-9a-f]+)"`)

func setup(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	codec, err := storage.NewLineCodec(crypto.PlainCodec{}, storage.DefaultDelimiters())
	require.NoError(t, err)
	manager := csrf.NewManager(session.NewStore(memory.New(codec, storage.PlainIndexer{})),
		csrf.NewHTTPCookies(csrf.DefaultCookieName))
	pages, err := web.New(manager)
	require.NoError(t, err)

	srv := httptest.NewServer(pages.Router())
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return srv, &http.Client{Jar: jar}
}

func getForm(t *testing.T, client *http.Client, baseURL string) (string, string) {
	t.Helper()
	resp, err := client.Get(baseURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	m := tokenField.FindStringSubmatch(string(body))
	require.Len(t, m, 2, "form must carry the hidden token field")
	return m[1], string(body)
}

func TestFormCarriesStableToken(t *testing.T) {
	srv, client := setup(t)
	first, _ := getForm(t, client, srv.URL)
	second, _ := getForm(t, client, srv.URL)
	assert.Len(t, first, 40)
	assert.Equal(t, first, second)
}

func TestSubmitWithToken(t *testing.T) {
	srv, client := setup(t)
	token, _ := getForm(t, client, srv.URL)

	resp, err := client.PostForm(srv.URL+"/submit", url.Values{
		"RandomToken": {token},
		"message":     {"<b>hello</b>"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	// The client follows the redirect back to the form.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := getForm(t, client, srv.URL)
	assert.Contains(t, body, "Last message: &lt;b&gt;hello&lt;/b&gt;")
}

func TestSubmitRejectsBadToken(t *testing.T) {
	srv, client := setup(t)
	token, _ := getForm(t, client, srv.URL)

	for _, submitted := range []string{"", strings.Repeat("0", 40), token[:39]} {
		resp, err := client.PostForm(srv.URL+"/submit", url.Values{"RandomToken": {submitted}, "message": {"x"}})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	srv, _ := setup(t)
	resp, err := http.PostForm(srv.URL+"/submit", url.Values{"RandomToken": {strings.Repeat("a", 40)}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
