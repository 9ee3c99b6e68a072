// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package app_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/soothill/hvac-supervisor/app"
	"github.com/soothill/hvac-supervisor/config"
)

type AppIntegrationTestSuite struct {
	suite.Suite
	influxDBContainer *influxdb.InfluxDbContainer
	influxDBURL       string
	upstream          *httptest.Server
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()
	container, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("testorg", "testbucket", "testuser", "testpassword"),
		influxdb.WithV2AdminToken("testtoken"),
	)
	s.Require().NoError(err)
	s.influxDBContainer = container

	s.influxDBURL, err = container.ConnectionUrl(ctx)
	s.Require().NoError(err)

	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"temperature_lt": 21.5, "humidite_lt": 41, "gaz": 800, "alarme": 0}`)
	}))
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	if s.upstream != nil {
		s.upstream.Close()
	}
	if s.influxDBContainer != nil {
		s.Require().NoError(s.influxDBContainer.Terminate(context.Background()))
	}
}

func freeAddr(s *AppIntegrationTestSuite) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer l.Close()
	return l.Addr().String()
}

func (s *AppIntegrationTestSuite) TestAppLifecycle() {
	addr := freeAddr(s)
	configPath := filepath.Join(s.T().TempDir(), "config.yaml")
	configContent := `
sources:
  latest_url: %s
server:
  addr: %s
influxdb:
  url: %s
  token: testtoken
  organization: testorg
  bucket: testbucket
  site: it
`
	err := os.WriteFile(configPath, []byte(fmt.Sprintf(configContent, s.upstream.URL, addr, s.influxDBURL)), 0600)
	s.Require().NoError(err)

	cfg, err := config.Load(configPath)
	s.Require().NoError(err)

	configChan := make(chan *config.Config)
	application, err := app.New(cfg, config.NewWatcher(configPath, configChan))
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		application.Run(configChan)
		close(done)
	}()

	s.Require().Eventually(func() bool {
		resp, err := http.Get("http://" + addr + "/ready")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/api/overview")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.Require().NoError(app.CheckUpstream(context.Background(), cfg))

	application.Shutdown()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.T().Fatal("App did not shut down gracefully")
	}
}
