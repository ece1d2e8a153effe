package config

type WorkerKeyStruct struct {
	AutoGradeQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AutoGradeQueue: "auto_grade_queue",
}
