package bundle

import (
	"fmt"
	"time"
)

// manifestLoad fetches the manifest and then the bundle-info collection.
// Unlike bundle fetches it is bounded by a total duration and never
// retried.
type manifestLoad struct {
	env      *requestEnv
	urls     []string
	stage    int
	docs     [][]byte
	handle   FetchHandle
	deadline time.Time
}

func newManifestLoad(manifestURL, collectionURL string, env *requestEnv) *manifestLoad {
	urls := []string{manifestURL}
	if collectionURL != "" {
		urls = append(urls, collectionURL)
	}
	return &manifestLoad{
		env:      env,
		urls:     urls,
		deadline: env.now().Add(env.cfg.ManifestTimeout),
	}
}

func (l *manifestLoad) url() string {
	return l.urls[l.stage]
}

// poll advances the load once. done is true when the load finished,
// successfully or not.
func (l *manifestLoad) poll() (idx *Index, done bool, err error) {
	if l.handle == nil {
		h, err := l.env.fetcher.Fetch(l.url(), "", 0)
		if err != nil {
			return nil, true, fmt.Errorf("fetch %s: %w", l.url(), err)
		}
		l.handle = h
	}
	if !l.handle.Done() {
		if !l.env.now().Before(l.deadline) {
			return nil, true, fmt.Errorf("%w: %s", ErrManifestTimeout, l.url())
		}
		return nil, false, nil
	}
	if err := l.handle.Err(); err != nil {
		return nil, true, fmt.Errorf("fetch %s: %w", l.url(), err)
	}
	l.docs = append(l.docs, l.handle.Bytes())
	l.close()
	l.stage++
	if l.stage < len(l.urls) {
		return nil, false, nil
	}
	var collection []byte
	if len(l.docs) > 1 {
		collection = l.docs[1]
	}
	idx, err = ParseIndex(l.docs[0], collection)
	return idx, true, err
}

func (l *manifestLoad) close() {
	if l.handle != nil {
		_ = l.handle.Close()
		l.handle = nil
	}
}

func (m *Manager) pollManifest() {
	idx, done, err := m.boot.poll()
	if !done {
		return
	}
	manifestURL := m.boot.urls[0]
	m.boot.close()
	m.boot = nil
	if err != nil {
		m.manifestErr = newLoadError(KindManifestMissing, manifestURL, "load manifest", err)
		m.log.Error("%v", m.manifestErr)
		return
	}
	m.index = idx
	m.ready = true
	m.log.Info("manifest loaded: %d bundle(s)", idx.Len())
}
