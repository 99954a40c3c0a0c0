package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/fieldvalue"
)

func TestParseConditions(t *testing.T) {
	conditions, err := ParseConditions("counter=15U; objHash=1113030459,1113030460 ;active=true")
	require.NoError(t, err)

	assert.Equal(t, fieldvalue.String("15U"), conditions["counter"])
	assert.Equal(t, fieldvalue.Bool(true), conditions["active"])

	hashes, ok := conditions["objHash"].(fieldvalue.List)
	require.True(t, ok)
	assert.Equal(t, fieldvalue.KindLong, hashes.Elem())
	assert.Equal(t, 2, hashes.Len())

	empty, err := ParseConditions("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseConditions("counter")
	assert.Error(t, err)

	_, err = ParseConditions("objHash=1,x")
	assert.Error(t, err)
}

func TestParseSources(t *testing.T) {
	sources, err := ParseSources("COUNTER=counter, OBJ_HASH=objHash:desc,ctime")
	require.NoError(t, err)
	assert.Equal(t, []config.Source{
		{Name: "COUNTER", Field: "counter", Order: "asc"},
		{Name: "OBJ_HASH", Field: "objHash", Order: "desc"},
		{Name: "ctime", Field: "ctime", Order: "asc"},
	}, sources)

	_, err = ParseSources(" , ")
	assert.Error(t, err)
}

func TestConnectionApply(t *testing.T) {
	cfg := config.Default()
	f := &Connection{ElasticURL: "https://es:9200", ElasticVersion: 9, ElasticSkipVerify: true, Trace: true}
	f.Apply(cfg)

	assert.Equal(t, "https://es:9200", cfg.Connection.URL)
	assert.Equal(t, 9, cfg.Connection.Version)
	assert.True(t, cfg.Connection.SkipVerify)
	assert.Equal(t, "trace", cfg.Logging.Level)

	(&Connection{}).Apply(cfg)
	assert.Equal(t, "https://es:9200", cfg.Connection.URL)
}
