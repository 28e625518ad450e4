package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/supervisor"
)

var _ = Describe("DependencyError", func() {
	It("should include the status when the response arrived", func() {
		err := &supervisor.DependencyError{Dependency: "llm", StatusCode: 503, Message: "overloaded"}

		Expect(err.Error()).To(Equal(`dependency "llm" returned status 503: overloaded`))
	})

	It("should describe connection failures without a status", func() {
		err := &supervisor.DependencyError{Dependency: "llm", Message: "connection refused"}

		Expect(err.Error()).To(Equal(`dependency "llm": connection refused`))
	})
})

var _ = Describe("Transient", func() {
	It("should be false for nil", func() {
		Expect(supervisor.Transient(nil)).To(BeFalse())
	})

	It("should never retry a caller cancellation", func() {
		Expect(supervisor.Transient(context.Canceled)).To(BeFalse())
		Expect(supervisor.Transient(fmt.Errorf("wrapped: %w", context.Canceled))).To(BeFalse())
	})

	It("should retry timeouts", func() {
		Expect(supervisor.Transient(context.DeadlineExceeded)).To(BeTrue())
	})

	It("should retry connection failures and 5xx responses", func() {
		Expect(supervisor.Transient(&supervisor.DependencyError{Dependency: "llm", Message: "refused"})).To(BeTrue())
		Expect(supervisor.Transient(&supervisor.DependencyError{Dependency: "llm", StatusCode: 502})).To(BeTrue())
		Expect(supervisor.Transient(syscall.ECONNRESET)).To(BeTrue())
		Expect(supervisor.Transient(io.ErrUnexpectedEOF)).To(BeTrue())
		Expect(supervisor.Transient(&net.DNSError{Err: "lookup failed", IsTimeout: true})).To(BeTrue())
	})

	It("should not retry 4xx responses", func() {
		Expect(supervisor.Transient(&supervisor.DependencyError{Dependency: "llm", StatusCode: 404})).To(BeFalse())
		Expect(supervisor.Transient(&supervisor.DependencyError{Dependency: "llm", StatusCode: 429})).To(BeFalse())
	})

	It("should not retry arbitrary errors", func() {
		Expect(supervisor.Transient(errors.New("parse failure"))).To(BeFalse())
	})
})

var _ = Describe("IsFailure", func() {
	It("should be false for nil and cancellation", func() {
		Expect(supervisor.IsFailure(nil)).To(BeFalse())
		Expect(supervisor.IsFailure(context.Canceled)).To(BeFalse())
	})

	It("should not blame the dependency for 4xx rejections", func() {
		Expect(supervisor.IsFailure(&supervisor.DependencyError{Dependency: "llm", StatusCode: 400})).To(BeFalse())
		Expect(supervisor.IsFailure(&supervisor.DependencyError{Dependency: "llm", StatusCode: 404})).To(BeFalse())
	})

	It("should count timeouts, 5xx, and connection failures", func() {
		Expect(supervisor.IsFailure(context.DeadlineExceeded)).To(BeTrue())
		Expect(supervisor.IsFailure(&supervisor.DependencyError{Dependency: "llm", StatusCode: 500})).To(BeTrue())
		Expect(supervisor.IsFailure(&supervisor.DependencyError{Dependency: "llm", Message: "refused"})).To(BeTrue())
		Expect(supervisor.IsFailure(errors.New("boom"))).To(BeTrue())
	})
})
