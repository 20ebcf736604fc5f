package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/catalog"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/repository"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/session"
)

// ============================================================================
// STUBS
// ============================================================================

type stubCatalog struct {
	cat         *catalog.Catalog
	invalidated int
}

func (s *stubCatalog) Catalog(ctx context.Context) (*catalog.Catalog, error) { return s.cat, nil }
func (s *stubCatalog) Invalidate()                                           { s.invalidated++ }

type stubDepartments struct {
	list []model.Department
}

func (s stubDepartments) ListDepartments(ctx context.Context) ([]model.Department, error) {
	return s.list, nil
}

type stubSubmitter struct {
	mu    sync.Mutex
	calls int
	errs  []error
	last  model.Registration
}

func (s *stubSubmitter) Submit(ctx context.Context, reg model.Registration) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = reg
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	reg.ID = "reg-1"
	reg.ConfirmationID = "FDP-0000ABCD"
	return &reg, nil
}

type recordingNotifier struct {
	regs []model.Registration
}

func (n *recordingNotifier) NotifyConfirmation(ctx context.Context, reg model.Registration, courses []model.Course) error {
	n.regs = append(n.regs, reg)
	return nil
}

type transientErr struct{}

func (transientErr) Error() string      { return "connection reset" }
func (transientErr) SafeToRetry() bool { return true }

type fixture struct {
	svc       *RegistrationService
	catalog   *stubCatalog
	store     *session.Store
	mr        *miniredis.Miniredis
	submitter *stubSubmitter
	notifier  *recordingNotifier
}

func testRecords() []model.CourseRecord {
	return []model.CourseRecord{
		{ID: "A", Name: "Didáctica", Period: "1", TimeRange: "9 a 13 hrs", Hours: 30},
		{ID: "B", Name: "Evaluación", Period: "1", TimeRange: "12 a 16 hrs", Hours: 30},
		{ID: "C", Name: "Python", Period: "1", TimeRange: "13 a 17 hrs", Hours: 20},
		{ID: "D", Name: "Tutorías", Period: "1", TimeRange: "17 a 19 hrs", Hours: 10},
		{ID: "E", Name: "Inglés", Period: "1", TimeRange: "7 a 9 hrs", Hours: 40},
		{ID: "F", Name: "Lleno", Period: "1", TimeRange: "19 a 21 hrs", Hours: 10, Registrations: 30},
		{ID: "P2", Name: "Ética", Period: "2", TimeRange: "9 a 13 hrs", Hours: 25},
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		catalog:   &stubCatalog{cat: catalog.Build(testRecords(), selection.FormatAuto, logger)},
		store:     session.NewStore(client, session.Options{LockAttempts: 200, LockBackoff: time.Millisecond}),
		mr:        mr,
		submitter: &stubSubmitter{},
		notifier:  &recordingNotifier{},
	}
	if cfg.SubmitBackoff == 0 {
		cfg.SubmitBackoff = time.Millisecond
	}
	f.svc = NewRegistrationService(Deps{
		Catalog:     f.catalog,
		Departments: stubDepartments{list: []model.Department{{ID: "SIS", Name: "Sistemas y Computación"}}},
		Store:       f.store,
		Submitter:   f.submitter,
		Notifier:    f.notifier,
		Logger:      logger,
	}, cfg)
	return f
}

func validProfile() model.RegistrantProfile {
	return model.RegistrantProfile{
		Name:       "  Ana   López ",
		NationalID: "loma800101mvzpnn09",
		Email:      "Ana.Lopez@ITSX.edu.mx",
		Gender:     "f",
		Department: "SIS",
	}
}

func pdfBase64() string {
	return base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n"))
}

// ============================================================================
// SELECTION
// ============================================================================

func TestAddAndRemoveCourses(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	v, err := f.svc.AddCourse(ctx, "s1", "A")
	require.NoError(t, err)
	assert.Equal(t, string(selection.StateLocked), v.State)
	assert.Equal(t, model.Period1, v.Period)

	v, err = f.svc.AddCourse(ctx, "s1", "C")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v.TotalHours, 1e-9)

	_, err = f.svc.AddCourse(ctx, "s1", "B")
	var rej *selection.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, selection.ReasonScheduleConflict, rej.Reason)

	_, err = f.svc.AddCourse(ctx, "s1", "P2")
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, selection.ReasonPeriodLocked, rej.Reason)

	v, err = f.svc.GetSelection(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, v.Courses, 2)

	v, err = f.svc.RemoveCourse(ctx, "s1", "A")
	require.NoError(t, err)
	require.Len(t, v.Courses, 1)
	assert.Equal(t, "C", v.Courses[0].ID)

	v, err = f.svc.RemoveCourse(ctx, "s1", "C")
	require.NoError(t, err)
	assert.Equal(t, string(selection.StateEmpty), v.State)

	_, err = f.svc.AddCourse(ctx, "s1", "P2")
	require.NoError(t, err, "period lock released once empty")
}

func TestAddUnknownCourse(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.AddCourse(context.Background(), "s1", "ZZ")
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
}

func TestCheckCourse(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	d, err := f.svc.CheckCourse(ctx, "s1", "F")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(selection.ReasonCourseFull), d.Reason)

	_, err = f.svc.AddCourse(ctx, "s1", "A")
	require.NoError(t, err)
	d, err = f.svc.CheckCourse(ctx, "s1", "B")
	require.NoError(t, err)
	assert.Equal(t, string(selection.ReasonScheduleConflict), d.Reason)
	assert.Equal(t, "A", d.ConflictsWith)

	d, err = f.svc.CheckCourse(ctx, "s1", "C")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestConcurrentAddsRespectLimit(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, id := range []string{"A", "C"} {
		_, err := f.svc.AddCourse(ctx, "s1", id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"D", "E"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = f.svc.AddCourse(ctx, "s1", id)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			var rej *selection.RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, selection.ReasonLimitReached, rej.Reason)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	v, err := f.svc.GetSelection(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, v.Courses, 3)
}

func TestStaleStoredSelectionIsDiscarded(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "s1", session.State{CourseIDs: []string{"A", "P2"}, Period: model.Period1}))

	v, err := f.svc.GetSelection(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, string(selection.StateEmpty), v.State)

	require.NoError(t, f.store.Save(ctx, "s2", session.State{CourseIDs: []string{"A", "gone"}, Period: model.Period1}))
	v, err = f.svc.GetSelection(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, v.Courses, 1)
	assert.Equal(t, "A", v.Courses[0].ID)
}

func TestCorruptStoredSelectionIsDiscarded(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, "s1", session.State{CourseIDs: []string{"A"}, Period: model.Period1}))
	require.NoError(t, f.mr.Set("selection:s1", "{not json"))

	v, err := f.svc.GetSelection(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, string(selection.StateEmpty), v.State)

	v, err = f.svc.AddCourse(ctx, "s1", "A")
	require.NoError(t, err)
	assert.Len(t, v.Courses, 1)
}

func TestListCoursesByPeriod(t *testing.T) {
	f := newFixture(t, Config{})

	all, err := f.svc.ListCourses(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 7)

	p2, err := f.svc.ListCourses(context.Background(), "Periodo 2")
	require.NoError(t, err)
	require.Len(t, p2, 1)
	assert.Equal(t, "P2", p2[0].ID)

	_, err = f.svc.ListCourses(context.Background(), "verano")
	assert.ErrorIs(t, err, ErrValidation)
}

// ============================================================================
// SUBMISSION
// ============================================================================

func TestSubmitParticipant(t *testing.T) {
	f := newFixture(t, Config{AllowedEmailDomains: []string{"itsx.edu.mx"}, StrictNationalID: true})
	ctx := context.Background()
	for _, id := range []string{"A", "C"} {
		_, err := f.svc.AddCourse(ctx, "s1", id)
		require.NoError(t, err)
	}

	conf, err := f.svc.Submit(ctx, "s1", model.SubmitRequest{Role: "Participant", Profile: validProfile()})
	require.NoError(t, err)
	assert.Equal(t, "FDP-0000ABCD", conf.ConfirmationID)
	assert.Contains(t, conf.Message, "Ana López")

	assert.Equal(t, []string{"A", "C"}, f.submitter.last.CourseIDs)
	assert.Equal(t, "ana.lopez@itsx.edu.mx", f.submitter.last.Profile.Email)
	assert.Equal(t, "LOMA800101MVZPNN09", f.submitter.last.Profile.NationalID)
	assert.Equal(t, "F", f.submitter.last.Profile.Gender)
	assert.Equal(t, 1, f.catalog.invalidated)
	require.Len(t, f.notifier.regs, 1)

	v, err := f.svc.GetSelection(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, v.Courses, "selection is consumed by submission")
}

func TestSubmitParticipantWithoutCourses(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: validProfile()})
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.Zero(t, f.submitter.calls)
}

func TestSubmitProfileValidation(t *testing.T) {
	f := newFixture(t, Config{AllowedEmailDomains: []string{"@itsx.edu.mx", "tecnm.mx"}, StrictNationalID: true})
	_, err := f.svc.AddCourse(context.Background(), "s1", "A")
	require.NoError(t, err)

	p := validProfile()
	p.Email = "ana@gmail.com"
	p.NationalID = "SHORT"
	p.Gender = "Q"
	p.Name = ""

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: p})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, verr.Fields["profile.email"], "itsx.edu.mx, tecnm.mx")
	assert.Contains(t, verr.Fields["profile.national_id"], "18")
	assert.Contains(t, verr.Fields["profile.gender"], "F M X")
	assert.Equal(t, "is required", verr.Fields["profile.name"])

	v, err := f.svc.GetSelection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, v.Courses, 1, "rejected submissions keep the selection")
}

func TestSubmitLenientNationalID(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.AddCourse(context.Background(), "s1", "A")
	require.NoError(t, err)

	p := validProfile()
	p.NationalID = "12345"
	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: p})
	assert.NoError(t, err)
}

func TestSubmitUnknownDepartment(t *testing.T) {
	f := newFixture(t, Config{})
	p := validProfile()
	p.Department = "Astronomía"

	_, err := f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: p})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "profile.department")

	p.Department = "sistemas y computación"
	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: p})
	assert.ErrorIs(t, err, ErrEmptySelection, "department matched by name")
}

func TestSubmitRole(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: "guest", Profile: validProfile()})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{
		Role:       model.RoleParticipant,
		Profile:    validProfile(),
		Instructor: &model.InstructorPayload{CourseID: "A"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "instructor")
}

func TestSubmitInstructor(t *testing.T) {
	f := newFixture(t, Config{})
	req := model.SubmitRequest{
		Role:    model.RoleInstructor,
		Profile: validProfile(),
		Instructor: &model.InstructorPayload{
			CourseID: "F",
			Documents: []model.Document{
				{Name: "cv.pdf", MIMEType: "application/pdf", ContentBase64: pdfBase64()},
				{Name: "temario.pdf", MIMEType: "application/pdf", ContentBase64: "data:application/pdf;base64," + pdfBase64()},
			},
		},
	}

	conf, err := f.svc.Submit(context.Background(), "s1", req)
	require.NoError(t, err)
	assert.NotEmpty(t, conf.ConfirmationID)
	assert.Equal(t, "F", f.submitter.last.TaughtCourseID, "instructors may teach a full course")
	require.Len(t, f.submitter.last.Documents, 2)
	assert.Equal(t, "temario.pdf", f.submitter.last.Documents[1].Name)
	assert.Empty(t, f.submitter.last.CourseIDs)
}

func TestSubmitInstructorRequiresPayload(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleInstructor, Profile: validProfile()})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "instructor")

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{
		Role:       model.RoleInstructor,
		Profile:    validProfile(),
		Instructor: &model.InstructorPayload{CourseID: "nope"},
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "instructor.course_id")
}

func TestValidateDocuments(t *testing.T) {
	big := base64.StdEncoding.EncodeToString(append([]byte("%PDF-1.4\n"), make([]byte, MaxDocumentBytes)...))
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000000000000000"))

	_, err := ValidateDocuments([]model.Document{
		{Name: "big.pdf", MIMEType: "application/pdf", ContentBase64: big},
		{Name: "foto.png", MIMEType: "image/png", ContentBase64: png},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "big.pdf: file exceeds the 2 MB limit", verr.Fields["instructor.documents[0]"])
	assert.Equal(t, "foto.png: only PDF files are accepted", verr.Fields["instructor.documents[1]"])

	_, err = ValidateDocuments([]model.Document{
		{Name: "fake.pdf", MIMEType: "application/pdf", ContentBase64: png},
		{Name: "", MIMEType: "application/pdf", ContentBase64: "%%%"},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fake.pdf: content is not a PDF document", verr.Fields["instructor.documents[0]"])
	assert.Equal(t, "document 2: content is not valid base64", verr.Fields["instructor.documents[1]"])

	_, err = ValidateDocuments(make([]model.Document, 3))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "instructor.documents")

	docs, err := ValidateDocuments(nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, Config{SubmitMaxAttempts: 3})
	f.submitter.errs = []error{transientErr{}, transientErr{}, nil}
	_, err := f.svc.AddCourse(context.Background(), "s1", "A")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: validProfile()})
	require.NoError(t, err)
	assert.Equal(t, 3, f.submitter.calls)
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, Config{SubmitMaxAttempts: 2})
	f.submitter.errs = []error{transientErr{}, transientErr{}, nil}
	_, err := f.svc.AddCourse(context.Background(), "s1", "A")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: validProfile()})
	assert.ErrorIs(t, err, ErrSubmissionUnavailable)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
	assert.Equal(t, 2, f.submitter.calls)
	assert.Empty(t, f.notifier.regs)

	v, err := f.svc.GetSelection(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, v.Courses, "selection is discarded after a failed attempt")
}

func TestSubmitDoesNotRetryDomainErrors(t *testing.T) {
	f := newFixture(t, Config{SubmitMaxAttempts: 3})
	f.submitter.errs = []error{errors.Join(repository.ErrCourseFull, transientErr{})}
	_, err := f.svc.AddCourse(context.Background(), "s1", "A")
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), "s1", model.SubmitRequest{Role: model.RoleParticipant, Profile: validProfile()})
	assert.ErrorIs(t, err, repository.ErrCourseFull)
	assert.Equal(t, 1, f.submitter.calls)
}

type stubFinder struct {
	last string
}

func (f *stubFinder) GetByConfirmation(ctx context.Context, confirmationID string) (*model.Registration, error) {
	f.last = confirmationID
	if confirmationID != "FDP-0000ABCD" {
		return nil, repository.ErrNotFound
	}
	return &model.Registration{ID: "reg-1", ConfirmationID: confirmationID}, nil
}

func TestGetRegistration(t *testing.T) {
	f := newFixture(t, Config{})
	finder := &stubFinder{}
	f.svc.finder = finder

	reg, err := f.svc.GetRegistration(context.Background(), " fdp-0000abcd ")
	require.NoError(t, err)
	assert.Equal(t, "reg-1", reg.ID)
	assert.Equal(t, "FDP-0000ABCD", finder.last)

	_, err = f.svc.GetRegistration(context.Background(), "FDP-FFFFFFFF")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.GetRegistration(context.Background(), "  ")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
