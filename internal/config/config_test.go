package config_test

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lc/bulkdns/internal/config"
)

type ConfigTestSuite struct {
	suite.Suite
	fs       mockFS
	provider config.Provider
}

type mockFS struct {
	files map[string]string
}

func (m mockFS) Stat(path string) (os.FileInfo, error) {
	if _, ok := m.files[path]; !ok {
		return nil, os.ErrNotExist
	}
	return nil, nil
}

func (m mockFS) MkdirAll(_ string, _ os.FileMode) error {
	return nil
}

func (m mockFS) Open(path string) (*os.File, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	tmp, err := os.CreateTemp("", "mock-*") // cleaned up by the OS temp dir
	if err != nil {
		return nil, err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, err
	}
	return tmp, nil
}

func (m mockFS) WriteFile(path string, content []byte, _ os.FileMode) error {
	m.files[path] = string(content)
	return nil
}

func (s *ConfigTestSuite) SetupTest() {
	s.fs = mockFS{
		files: make(map[string]string),
	}
	s.provider = config.NewWithPath(s.fs, "test/config.yaml")
}

func (s *ConfigTestSuite) TestLoadDefaultsWhenMissing() {
	cfg, err := s.provider.Load()
	s.Require().NoError(err)
	s.Equal(config.Default(), cfg)
}

func (s *ConfigTestSuite) TestLoadValid() {
	s.fs.files["test/config.yaml"] = `
resolver:
  nameservers:
    - 8.8.8.8
    - 1.1.1.1
  domain: example.com
  tries: 3
  timeout: 2s
public_dns:
  countries: [us, de]
  max_per_country: 50
  ipv6: true
`

	cfg, err := s.provider.Load()
	s.Require().NoError(err)

	s.Equal([]string{"8.8.8.8", "1.1.1.1"}, cfg.Resolver.Nameservers)
	s.Equal("example.com", cfg.Resolver.Domain)
	s.Equal(3, cfg.Resolver.Tries)
	s.Equal(2*time.Second, cfg.Resolver.Timeout)
	s.Equal([]string{"us", "de"}, cfg.PublicDNS.Countries)
	s.Equal(50, cfg.PublicDNS.MaxPerCountry)
	s.True(cfg.PublicDNS.IPv6)
}

func (s *ConfigTestSuite) TestLoadInvalid() {
	testCases := []struct {
		name string
		yaml string
	}{
		{
			name: "no nameservers",
			yaml: `
resolver:
  nameservers: []
  tries: 1
  timeout: 5s
public_dns:
  max_per_country: 100
`,
		},
		{
			name: "blank nameserver",
			yaml: `
resolver:
  nameservers: ["  "]
  tries: 1
  timeout: 5s
public_dns:
  max_per_country: 100
`,
		},
		{
			name: "zero tries",
			yaml: `
resolver:
  nameservers: [8.8.8.8]
  tries: 0
  timeout: 5s
public_dns:
  max_per_country: 100
`,
		},
		{
			name: "timeout too small",
			yaml: `
resolver:
  nameservers: [8.8.8.8]
  tries: 1
  timeout: 10ms
public_dns:
  max_per_country: 100
`,
		},
		{
			name: "zero max_per_country",
			yaml: `
resolver:
  nameservers: [8.8.8.8]
  tries: 1
  timeout: 5s
public_dns:
  max_per_country: 0
`,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.fs.files["test/config.yaml"] = tc.yaml
			_, err := s.provider.Load()
			s.ErrorIs(err, config.ErrInvalidConfig)
		})
	}
}

func (s *ConfigTestSuite) TestLoadMalformedYAML() {
	s.fs.files["test/config.yaml"] = "resolver: [not a mapping"
	_, err := s.provider.Load()
	s.Error(err)
}

func (s *ConfigTestSuite) TestValidateDefault() {
	s.NoError(config.Default().Validate())
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
