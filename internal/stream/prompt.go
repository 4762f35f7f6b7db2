package stream

import "strings"

// Placeholders recognized in prompt templates. Values come from the feedback
// request; unset values render as empty strings.
const (
	PlaceholderSubmission      = "##submission##"
	PlaceholderTaskTitle       = "##task_title##"
	PlaceholderTaskDescription = "##task_description##"
	PlaceholderTaskContext     = "##task_context##"
	PlaceholderCourseName      = "##course_name##"
	PlaceholderCourseContext   = "##course_context##"
)

// DefaultPromptTemplate is used when a request carries no template of its own.
const DefaultPromptTemplate = `You are a tutor giving feedback on a student submission.

Course: ##course_name##
##course_context##

Task: ##task_title##
##task_description##
##task_context##

Give constructive, specific feedback on the submission. Point out what works,
what does not, and how to improve it. Do not grade. Do not write a corrected
solution for the student.`

// RenderPrompt expands the template's placeholders from the request. The
// submission placeholder is supported for templates that inline it, but the
// submission is normally sent as the user message.
func RenderPrompt(template string, req FeedbackRequest) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	replacer := strings.NewReplacer(
		PlaceholderSubmission, req.Submission,
		PlaceholderTaskTitle, req.TaskTitle,
		PlaceholderTaskDescription, req.TaskDescription,
		PlaceholderTaskContext, req.TaskContext,
		PlaceholderCourseName, req.CourseName,
		PlaceholderCourseContext, req.CourseContext,
	)
	return strings.TrimSpace(replacer.Replace(template))
}
