package lifecycle

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/shmbox/internal/audit"
)

type RegistryTestSuite struct {
	suite.Suite
	reg     *Registry
	journal *audit.Journal
}

func (s *RegistryTestSuite) SetupTest() {
	s.journal = audit.NewJournal(64)
	s.reg = NewRegistry(DefaultBaseID, WithJournal(s.journal))
}

func (s *RegistryTestSuite) TestRegisterAssignsIDs() {
	in, err := s.reg.Register("shmbox_in")
	s.Require().NoError(err)
	out, err := s.reg.Register("shmbox_out")
	s.Require().NoError(err)

	s.Equal(DefaultBaseID, in.ID)
	s.Equal(DefaultBaseID+1, out.ID)

	_, err = s.reg.Register("shmbox_in")
	s.ErrorIs(err, ErrAlreadyRegistered)
	_, err = s.reg.Register("")
	s.Error(err)
}

func (s *RegistryTestSuite) TestOpenCloseCounters() {
	_, err := s.reg.Register("shmbox_in")
	s.Require().NoError(err)

	s.Require().NoError(s.reg.Opened("shmbox_in"))
	s.Require().NoError(s.reg.Opened("shmbox_in"))
	s.Require().NoError(s.reg.Closed("shmbox_in"))

	st, err := s.reg.Stats("shmbox_in")
	s.Require().NoError(err)
	s.Equal(int64(2), st.Opens)
	s.Equal(int64(1), st.Active)

	s.Require().NoError(s.reg.Closed("shmbox_in"))
	s.ErrorIs(s.reg.Closed("shmbox_in"), ErrNotOpen)

	st, err = s.reg.Stats("shmbox_in")
	s.Require().NoError(err)
	s.Equal(int64(2), st.Opens, "opens are never decremented")
	s.Equal(int64(0), st.Active)
}

func (s *RegistryTestSuite) TestUnknownEndpoint() {
	s.ErrorIs(s.reg.Opened("nope"), ErrNotRegistered)
	s.ErrorIs(s.reg.Closed("nope"), ErrNotRegistered)
	s.ErrorIs(s.reg.Unregister("nope"), ErrNotRegistered)
	_, err := s.reg.Stats("nope")
	s.ErrorIs(err, ErrNotRegistered)
}

func (s *RegistryTestSuite) TestUnregisterWhileOpen() {
	_, err := s.reg.Register("shmbox_out")
	s.Require().NoError(err)
	s.Require().NoError(s.reg.Opened("shmbox_out"))

	s.ErrorIs(s.reg.Unregister("shmbox_out"), ErrEndpointBusy)
	s.Require().NoError(s.reg.Closed("shmbox_out"))
	s.NoError(s.reg.Unregister("shmbox_out"))
	s.Empty(s.reg.All())
}

func (s *RegistryTestSuite) TestRemovedEntryTakesNoOpen() {
	_, err := s.reg.Register("shmbox_in")
	s.Require().NoError(err)
	e, ok := s.reg.endpoints.Get("shmbox_in")
	s.Require().True(ok)

	s.Require().NoError(s.reg.Unregister("shmbox_in"))
	_, ok = e.open()
	s.False(ok, "a lookup made before Unregister cannot count an open")
	s.Zero(e.active.Load())
}

func (s *RegistryTestSuite) TestOpenRacesUnregister() {
	for i := 0; i < 200; i++ {
		_, err := s.reg.Register("shmbox_in")
		s.Require().NoError(err)

		var openErr, unregErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			openErr = s.reg.Opened("shmbox_in")
		}()
		go func() {
			defer wg.Done()
			unregErr = s.reg.Unregister("shmbox_in")
		}()
		wg.Wait()

		s.Require().False(openErr == nil && unregErr == nil, "open counted on a removed endpoint")
		if openErr == nil {
			s.Require().ErrorIs(unregErr, ErrEndpointBusy)
			s.Require().NoError(s.reg.Closed("shmbox_in"))
			s.Require().NoError(s.reg.Unregister("shmbox_in"))
		} else {
			s.Require().ErrorIs(openErr, ErrNotRegistered)
		}
	}
}

func (s *RegistryTestSuite) TestAllOrderedByID() {
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.reg.Register(name)
		s.Require().NoError(err)
	}
	all := s.reg.All()
	s.Require().Len(all, 3)
	s.Equal("c", all[0].Name)
	s.Equal("a", all[1].Name)
	s.Equal("b", all[2].Name)
}

func (s *RegistryTestSuite) TestJournal() {
	_, err := s.reg.Register("shmbox_in")
	s.Require().NoError(err)
	s.Require().NoError(s.reg.Opened("shmbox_in"))
	s.Require().NoError(s.reg.Closed("shmbox_in"))

	var kinds []string
	for _, e := range s.journal.Drain() {
		kinds = append(kinds, e.Kind)
	}
	s.Equal([]string{"register", "open", "close"}, kinds)
}

func (s *RegistryTestSuite) TestConcurrentOpens() {
	_, err := s.reg.Register("shmbox_in")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.reg.Opened("shmbox_in"))
			s.NoError(s.reg.Closed("shmbox_in"))
		}()
	}
	wg.Wait()
	st, err := s.reg.Stats("shmbox_in")
	s.Require().NoError(err)
	s.Equal(int64(50), st.Opens)
	s.Equal(int64(0), st.Active)
}

func (s *RegistryTestSuite) TestOpenGauge() {
	promReg := prometheus.NewRegistry()
	reg := NewRegistry(0, WithRegisterer(promReg))
	_, err := reg.Register("shmbox_in")
	s.Require().NoError(err)
	s.Require().NoError(reg.Opened("shmbox_in"))
	s.Require().NoError(reg.Opened("shmbox_in"))

	m := &dto.Metric{}
	s.Require().NoError(reg.open.WithLabelValues("shmbox_in").Write(m))
	s.Equal(float64(2), m.GetGauge().GetValue())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
