package interview

const queriesPrompt = `You are a nutrition researcher preparing a knowledge-base search for a client.

Client profile:
%s

Write one retrieval query for each meal type: BREAKFAST, LUNCH, DINNER and SNACKS.
Each query should find guidance on meals that fit the client's goal, dietary preferences,
allergies and health conditions.

Answer with JSON only:
{"queries": [{"meal_type": "BREAKFAST", "query": "..."}]}`

const analystsPrompt = `You are assembling a team of nutrition analysts.

Meal type: %s
Research query: %s

Create at most %d analysts. Each analyst focuses on a different theme relevant to the
query and the meal type, such as macronutrient balance, practicality or food safety.

Answer with JSON only:
{"analysts": [{"name": "...", "tone": "...", "theme": "...", "description": "..."}]}`

const questionPrompt = `You are %s, a nutrition analyst interviewing an expert.
Tone: %s
Theme: %s
Focus: %s

You are researching %s options for this client:
%s

Ask one specific question that helps you choose concrete meals. When you have enough
information, say "Thank you so much for your help!" to end the interview.`

const searchPrompt = `Turn the last question of this interview into a short search query for a
nutrition knowledge base.

Answer with JSON only:
{"search_query": "..."}`

const answerPrompt = `You are a nutrition expert interviewed by %s, whose focus is: %s

Answer the question using only the context below. Cite the source of each fact in
square brackets, for example [1]. If the context does not cover the question, say so.

Context:
%s`

const writerPrompt = `You are writing %s recommendations for a client.

Client profile:
%s

Use the expert's findings below. Suggest meals that respect every allergy and dietary
preference in the profile.

Findings:
%s

Answer with JSON only:
{"meals": [{"meal_name": "...", "meal_type": "%s", "ingredients": ["..."],
"preparation_steps": ["..."], "prepared_steps": ["..."], "prep_time_minutes": 10,
"portion": "...", "goal_support": "..."}]}`
