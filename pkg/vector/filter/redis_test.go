package filter_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/llmkit/pkg/vector/filter"
)

var _ = Describe("ToRedis", func() {
	DescribeTable("renders numeric comparisons",
		func(f filter.Filter, expected string) {
			out, err := filter.ToRedis(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(expected))
		},
		Entry("nil", nil, "*"),
		Entry("eq", filter.Eq("age", 30), "(@age:[30 30])"),
		Entry("ne", filter.Ne("age", 30), "(-@age:[30 30])"),
		Entry("gt", filter.Gt("age", 30), "(@age:[(30 inf])"),
		Entry("gte", filter.Gte("age", 30), "(@age:[30 inf])"),
		Entry("lt", filter.Lt("age", 30), "(@age:[-inf (30])"),
		Entry("lte", filter.Lte("age", 30), "(@age:[-inf 30])"),
		Entry("float", filter.Gte("score", 0.75), "(@score:[0.75 inf])"),
		Entry("and", filter.And(filter.Gte("age", 18), filter.Lt("age", 65)), "(@age:[18 inf] @age:[-inf (65])"),
		Entry("nested and",
			filter.And(filter.Eq("a", 1), filter.Eq("b", 2), filter.Eq("c", 3)),
			"(@a:[1 1] @b:[2 2] @c:[3 3])"),
	)

	It("keeps numbers as written when parsed from JSON", func() {
		f, err := filter.Parse([]byte(`{"op": "eq", "key": "year", "value": 2024.0}`))
		Expect(err).NotTo(HaveOccurred())
		out, err := filter.ToRedis(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("(@year:[2024.0 2024.0])"))
	})

	DescribeTable("rejects what RediSearch numeric ranges cannot express",
		func(f filter.Filter) {
			_, err := filter.ToRedis(f)
			Expect(err).To(MatchError(filter.ErrUnsupportedFilter))
		},
		Entry("string value", filter.Eq("name", "klaus")),
		Entry("in", filter.In("age", 1, 2)),
		Entry("not in", filter.NotIn("age", 1, 2)),
		Entry("or", filter.Or(filter.Eq("a", 1), filter.Eq("b", 2))),
		Entry("not", filter.Not(filter.Eq("a", 1))),
		Entry("and with a bad side", filter.And(filter.Eq("a", 1), filter.Eq("b", "x"))),
	)
})
