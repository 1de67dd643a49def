package viewer

import "github.com/astromechza/viewsync/pkg/state"

func (s *InstanceTestSuite) TestConsoleDrivesInstance() {
	a := s.open("http://viewer/project/P")

	for _, line := range []string{
		"open right Q",
		"buckets left 8",
		"filter left vertex age >10",
		"filter left vertex age",
		"filter right edge weight <3",
		"",
	} {
		_, err := a.Exec(line)
		s.Require().NoError(err, line)
	}
	s.settle()

	current := a.State()
	s.Equal("Q", current.Right.ProjectName)
	s.Equal("8", current.Left.BucketCount)
	s.Empty(current.Left.Filters.Vertex)
	s.Equal(map[string]string{"weight": "<3"}, current.Right.Filters.Edge)

	out, err := a.Exec("state")
	s.Require().NoError(err)
	s.Equal(a.history.Query("q"), out)

	out, err = a.Exec("channel")
	s.Require().NoError(err)
	s.Equal(a.Channel(), out)
}

func (s *InstanceTestSuite) TestConsoleRejectsBadInput() {
	a := s.open("http://viewer/project/P")

	_, err := a.Exec("fly left")
	s.ErrorIs(err, ErrUnknownCommand)
	_, err = a.Exec("open left")
	s.ErrorIs(err, ErrUsage)
	_, err = a.Exec("open middle P")
	s.ErrorIs(err, ErrUsage)
	_, err = a.Exec("centers left none")
	s.ErrorIs(err, ErrUsage)
	_, err = a.Exec("op left Noop broken")
	s.ErrorIs(err, ErrUsage)
	_, err = a.Exec("undo right")
	s.ErrorIs(err, ErrNoProject)

	out, err := a.Exec("help")
	s.Require().NoError(err)
	s.Contains(out, "open <side> <project>")
}

func (s *InstanceTestSuite) TestConsoleOperationReachesBackend() {
	a := s.open("http://viewer/project/P")
	_, err := a.Exec("op left Change-project-notes notes=hello")
	s.Require().NoError(err)
	s.settle()
	s.Equal("hello", a.Side(state.Left).Project.Notes)
}
