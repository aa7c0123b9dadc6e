//go:build integration

package storage_test

import (
	"context"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/you/blogql/internal/storage"
)

var _ = Describe("Minio", func() {
	var (
		ctx       context.Context
		container *tcminio.MinioContainer
		images    *storage.Minio
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
			tcminio.WithUsername("blogql"),
			tcminio.WithPassword("blogql-secret"),
		)
		Expect(err).NotTo(HaveOccurred())

		endpoint, err := container.ConnectionString(ctx)
		Expect(err).NotTo(HaveOccurred())

		images, err = storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: container.Username,
			SecretKey: container.Password,
			Bucket:    "images",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("creates the bucket once", func() {
		_, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  images.Client.EndpointURL().Host,
			AccessKey: container.Username,
			SecretKey: container.Password,
			Bucket:    "images",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores, serves and removes an image", func() {
		path, err := images.Put(ctx, "cat.png", strings.NewReader("png-bytes"), int64(len("png-bytes")), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HavePrefix(storage.PathPrefix))
		Expect(path).To(HaveSuffix("-cat.png"))

		rc, contentType, err := images.Open(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(rc)
		Expect(rc.Close()).To(Succeed())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("png-bytes"))
		Expect(contentType).To(Equal("image/png"))

		Expect(images.Remove(ctx, path)).To(Succeed())
		_, _, err = images.Open(ctx, path)
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("reports a missing image as not found", func() {
		_, _, err := images.Open(ctx, storage.PathPrefix+"missing.png")
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("rejects paths outside the image namespace", func() {
		err := images.Remove(ctx, "../etc/passwd")
		Expect(storage.IsInvalidPath(err)).To(BeTrue())
	})
})
