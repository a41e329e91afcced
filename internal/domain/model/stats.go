package model

// CountBucket — количество документов в группе (отдел, тег, автор).
type CountBucket struct {
	Name  string
	Count int
}

// DocumentStats — сводная статистика по документам, доступным субъекту.
type DocumentStats struct {
	Total    int
	ByStatus map[DocumentStatus]int
	// Interactions — просмотры и скачивания доступных документов за период
	Interactions    int
	ByDepartment    []CountBucket
	TopTags         []CountBucket
	TopContributors []CountBucket
}

// MonthlyActivity — загрузки и просмотры за календарный месяц (UTC).
type MonthlyActivity struct {
	// Month — месяц в формате 2006-01
	Month   string
	Uploads int
	Views   int
}
