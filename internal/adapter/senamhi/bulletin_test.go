package senamhi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
)

const alertsPage = `<html><body>
<table>
  <tr>
    <th>Aviso</th><th>Nro</th><th>Emisi&oacute;n</th><th>Inicio</th><th>Fin</th><th>Duraci&oacute;n</th><th>Nivel</th>
  </tr>
  <tr>
    <td> Precipitaciones intensas en la sierra sur </td>
    <td>Aviso N&deg; 123</td>
    <td>2025-08-20 10:00</td>
    <td>2025-08-21</td>
    <td>2025-08-24</td>
    <td>72 horas</td>
    <td>NARANJA</td>
  </tr>
  <tr>
    <td>Vientos fuertes en la costa</td>
    <td>124</td>
    <td>2025-08-21 06:00</td>
    <td>2025-08-22</td>
    <td>2025-08-23</td>
    <td>48 horas</td>
    <td>AMARILLO</td>
  </tr>
</table>
</body></html>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBulletinClient_FetchAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(alertsPage))
	}))
	defer srv.Close()

	c := NewBulletinClient(srv.URL, 5*time.Second, testLogger())
	alerts, err := c.FetchAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, domain.RawAlert{
		Label:  "Precipitaciones intensas en la sierra sur",
		Number: "Aviso N° 123",
		Issued: "2025-08-20 10:00",
		Start:  "2025-08-21",
		End:    "2025-08-24",
		Level:  "NARANJA",
	}, alerts[0])
	assert.Equal(t, "124", alerts[1].Number)
	assert.Equal(t, "AMARILLO", alerts[1].Level)
}

func TestBulletinClient_SkipsShortRows(t *testing.T) {
	page := `<table>
<tr><td>only</td><td>three</td><td>cells</td></tr>
<tr><td>a</td><td>1</td><td>2025-01-01</td><td>2025-01-02</td><td>2025-01-03</td><td>24 horas</td><td>ROJO</td></tr>
</table>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	c := NewBulletinClient(srv.URL, 5*time.Second, testLogger())
	alerts, err := c.FetchAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ROJO", alerts[0].Level)
}

func TestBulletinClient_NoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>sin avisos</p></body></html>"))
	}))
	defer srv.Close()

	c := NewBulletinClient(srv.URL, 5*time.Second, testLogger())
	alerts, err := c.FetchAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestBulletinClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewBulletinClient(srv.URL, 5*time.Second, testLogger())
	alerts, err := c.FetchAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestBulletinClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewBulletinClient(url, time.Second, testLogger())
	alerts, err := c.FetchAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestBulletinClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(alertsPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewBulletinClient(srv.URL, 5*time.Second, testLogger())
	_, err := c.FetchAlerts(ctx)
	require.Error(t, err)
}
